// Package genstore keeps the generation counters that validate snapshot frames.
// A frame is current only while the generation it was written at is still the
// collection's generation; invalidation is a Bump.
package genstore

import "context"

// GenStore abstracts where generations live. Use Local when the snapshot provider is
// in-process, Redis when several processes share one provider.
type GenStore interface {
	// Snapshot returns the current generation of storageKey; unknown keys read 0.
	Snapshot(ctx context.Context, storageKey string) (uint64, error)
	// Bump increments the generation and returns the new value.
	Bump(ctx context.Context, storageKey string) (uint64, error)
	Close(ctx context.Context) error
}
