package ristretto

import (
	"cmp"
	"context"
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"

	pr "github.com/unkn0wn-root/metacache/provider"
)

// Provider keeps snapshot frames in process, bounded by their total size. Frames
// are admitted by ristretto's TinyLFU policy, so a Set may be declined.
type Provider struct {
	c    *rc.Cache
	sync bool
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	// MaxBytes bounds the stored frames. Default 64 MiB.
	MaxBytes int64
	// Frames is the expected number of frames (collections plus narrow lookups).
	// Admission statistics are kept for ten times as many keys. Default 10k.
	Frames int64
	// SyncWrites waits for each admitted Set to be applied, so a Get right after it
	// hits. ristretto applies writes asynchronously otherwise.
	SyncWrites bool
}

func New(cfg Config) (*Provider, error) {
	if cfg.MaxBytes < 0 || cfg.Frames < 0 {
		return nil, errors.New("ristretto: negative size")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: 10 * cmp.Or(cfg.Frames, 10_000),
		MaxCost:     cmp.Or(cfg.MaxBytes, 64<<20),
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{c: c, sync: cfg.SyncWrites}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	if !ok {
		p.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

// Set charges the frame size; ttl <= 0 keeps the frame until it is evicted.
func (p *Provider) Set(_ context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	if cost <= 0 {
		cost = int64(len(value))
	}
	if ttl < 0 {
		ttl = 0
	}
	ok := p.c.SetWithTTL(key, value, cost, ttl)
	if ok && p.sync {
		p.c.Wait()
	}
	return ok, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Del(key)
	return nil
}

func (p *Provider) Close(context.Context) error {
	p.c.Close()
	return nil
}
