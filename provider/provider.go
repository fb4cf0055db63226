// Package provider is the byte store behind the metacache snapshot tier: ristretto
// or bigcache in process, redis across processes.
//
// Stores hand back exactly the bytes they were given. Frames carry their own
// checksum, so a store that transcodes values turns every read into a rejected
// frame. Keys starting with "coll:" and "obj:" belong to metacache.
package provider

import (
	"context"
	"time"
)

// Provider must be safe for concurrent use.
type Provider interface {
	// Get reports a miss as (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value for ttl (<= 0: the store's default or no expiry). cost is the
	// frame size in bytes; ok=false means the store declined the frame (admission
	// policy, size limit) and is not an error.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del is best-effort; deleting a missing key succeeds.
	Del(ctx context.Context, key string) error

	Close(ctx context.Context) error
}

// Prefixed isolates several metacache deployments (applications, environments)
// sharing one store, e.g. a redis instance.
type Prefixed struct {
	Inner  Provider
	Prefix string // e.g. "myapp:"
}

var _ Provider = Prefixed{}

func (p Prefixed) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return p.Inner.Get(ctx, p.Prefix+key)
}

func (p Prefixed) Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	return p.Inner.Set(ctx, p.Prefix+key, value, cost, ttl)
}

func (p Prefixed) Del(ctx context.Context, key string) error {
	return p.Inner.Del(ctx, p.Prefix+key)
}

func (p Prefixed) Close(ctx context.Context) error { return p.Inner.Close(ctx) }
