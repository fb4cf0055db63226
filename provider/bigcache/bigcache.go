package bigcache

import (
	"context"
	"errors"
	"time"

	bc "github.com/allegro/bigcache/v3"

	pr "github.com/unkn0wn-root/metacache/provider"
)

// Provider keeps snapshot frames off the Go heap, which suits large catalogs whose
// bulk frames would otherwise add GC pressure.
//
// bigcache has no per-entry TTL: every frame lives for Config.TTL whatever TTL the
// snapshot tier passes. Generations still invalidate frames early.
type Provider struct {
	c        *bc.BigCache
	maxFrame int
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	TTL time.Duration // default 30m
	// MaxMB caps the memory of all shards; 0 = unbounded.
	MaxMB int
	// MaxFrameBytes declines larger frames; 0 = no limit.
	MaxFrameBytes int
}

func New(cfg Config) (*Provider, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	conf := bc.DefaultConfig(ttl)
	conf.CleanWindow = ttl / 2
	conf.HardMaxCacheSize = cfg.MaxMB
	conf.Verbose = false
	// catalogs hold few, large entries
	conf.Shards = 64
	conf.MaxEntriesInWindow = 10_000
	conf.MaxEntrySize = 16 << 10
	c, err := bc.New(context.Background(), conf)
	if err != nil {
		return nil, err
	}
	return &Provider{c: c, maxFrame: cfg.MaxFrameBytes}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := p.c.Get(key)
	switch {
	case errors.Is(err, bc.ErrEntryNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return b, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	if p.maxFrame > 0 && len(value) > p.maxFrame {
		return false, nil
	}
	return true, p.c.Set(key, value)
}

func (p *Provider) Del(_ context.Context, key string) error {
	if err := p.c.Delete(key); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
		return err
	}
	return nil
}

func (p *Provider) Len() int { return p.c.Len() }

func (p *Provider) Close(context.Context) error { return p.c.Close() }
