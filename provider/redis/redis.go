package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pr "github.com/unkn0wn-root/metacache/provider"
)

var ErrNilClient = errors.New("redis provider: nil client")

// Redis shares snapshot frames between processes; pair it with genstore.Redis so
// every process validates frames against the same generations. Wrap it in
// provider.Prefixed when several deployments share one redis.
type Redis struct {
	rdb goredis.UniversalClient
	cfg Config
}

var _ pr.Provider = (*Redis)(nil)

type Config struct {
	Client goredis.UniversalClient
	// MaxFrameBytes rejects larger frames (Set reports ok=false); 0 = no limit.
	// Bulk frames of very wide schemas can outgrow what is worth shipping to redis.
	MaxFrameBytes int
	// CloseClient closes the client with the provider; set it only when the provider
	// owns the client exclusively.
	CloseClient bool
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: cfg.Client, cfg: cfg}, nil
}

func (p *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := p.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, goredis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return b, true, nil
}

// Set ignores cost; non-positive TTLs store without expiry.
func (p *Redis) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	if p.cfg.MaxFrameBytes > 0 && len(value) > p.cfg.MaxFrameBytes {
		return false, nil
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := p.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// Del unlinks: large bulk frames are freed off the redis main thread.
func (p *Redis) Del(ctx context.Context, key string) error {
	return p.rdb.Unlink(ctx, key).Err()
}

func (p *Redis) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

func (p *Redis) Close(context.Context) error {
	if !p.cfg.CloseClient {
		return nil
	}
	if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}
