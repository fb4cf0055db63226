package genstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ GenStore = (*Redis)(nil)

// bump increments and, with a positive TTL, re-arms the expiry in one atomic step.
var bump = redis.NewScript(`
local g = redis.call("INCR", KEYS[1])
local ttl = tonumber(ARGV[1])
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[1], ttl)
end
return g
`)

type RedisOptions struct {
	// Namespace prefixes every key: "<namespace>:gen:<storage key>".
	Namespace string
	// TTL expires generations that are not bumped; 0 keeps them. An expired
	// generation reads 0, so TTL must exceed the snapshot TTL.
	TTL time.Duration
	// OwnClient closes the client with the store. Leave it off when the client is
	// shared with the redis provider.
	OwnClient bool
}

// Redis keeps generations in redis so every process sharing a snapshot provider
// validates frames against the same counters.
type Redis struct {
	rdb  redis.UniversalClient
	opts RedisOptions
}

func NewRedis(client redis.UniversalClient, opts RedisOptions) *Redis {
	return &Redis{rdb: client, opts: opts}
}

func (s *Redis) key(k string) string {
	if s.opts.Namespace == "" {
		return "gen:" + k
	}
	return s.opts.Namespace + ":gen:" + k
}

func (s *Redis) Snapshot(ctx context.Context, k string) (uint64, error) {
	g, err := s.rdb.Get(ctx, s.key(k)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return g, err
}

func (s *Redis) Bump(ctx context.Context, k string) (uint64, error) {
	return bump.Run(ctx, s.rdb, []string{s.key(k)}, s.opts.TTL.Milliseconds()).Uint64()
}

func (s *Redis) Close(context.Context) error {
	if !s.opts.OwnClient {
		return nil
	}
	if err := s.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}
