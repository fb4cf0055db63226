package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/metacache"
	gen "github.com/unkn0wn-root/metacache/genstore"
	asynchook "github.com/unkn0wn-root/metacache/hooks/async"
	mclogrus "github.com/unkn0wn-root/metacache/log/logrus"
	mcslog "github.com/unkn0wn-root/metacache/log/slog"
	mczap "github.com/unkn0wn-root/metacache/log/zap"
	pr "github.com/unkn0wn-root/metacache/provider"
	bcp "github.com/unkn0wn-root/metacache/provider/bigcache"
	rdp "github.com/unkn0wn-root/metacache/provider/redis"
	rsp "github.com/unkn0wn-root/metacache/provider/ristretto"
	"github.com/unkn0wn-root/metacache/sloghooks"
)

// Env is the metacache environment described by a Config.
type Env struct {
	Logger   metacache.Logger
	Hooks    metacache.Hooks
	Registry *metacache.Registry

	closers []func(context.Context) error
}

// Close closes the registry (and with it the snapshot tier), then drains hooks and
// flushes the logger.
func (e *Env) Close(ctx context.Context) error {
	return errors.Join(e.Registry.Close(ctx), e.closeAll(ctx))
}

// Build wires logger, hooks and the snapshot tier. Log output goes to w.
func (c *Config) Build(ctx context.Context, w io.Writer) (*Env, error) {
	env := &Env{}
	log, closeLog, err := c.logger(w)
	if err != nil {
		return nil, err
	}
	env.Logger = log
	if closeLog != nil {
		env.closers = append(env.closers, closeLog)
	}

	env.Hooks = metacache.NopHooks{}
	if c.Log.Hooks {
		lvl, _ := parseLevel(c.Log.Level)
		raw := sloghooks.New(slog.New(c.slogHandler(w, lvl)), sloghooks.Options{
			RowSkipped: c.Log.SampleEvery,
		})
		env.Hooks = raw
		if c.Log.AsyncHooks {
			h := asynchook.New(raw, 1, 1024)
			env.Hooks = h
			env.closers = append(env.closers, h.Close)
		}
	}

	prov, gens, err := c.snapshotTier(ctx)
	if err != nil {
		_ = env.closeAll(ctx)
		return nil, err
	}
	env.Registry = metacache.NewRegistry(metacache.RegistryOptions{
		Logger:   env.Logger,
		Hooks:    env.Hooks,
		Provider: prov,
		Gens:     gens,
	})
	return env, nil
}

func (e *Env) closeAll(ctx context.Context) error {
	var err error
	for i := len(e.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, e.closers[i](ctx))
	}
	return err
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, err
	}
	return l, nil
}

func (c *Config) slogHandler(w io.Writer, lvl slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: lvl}
	if c.Log.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func (c *Config) logger(w io.Writer) (metacache.Logger, func(context.Context) error, error) {
	lvl, err := parseLevel(c.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	switch c.Log.Backend {
	case "zap":
		enc := zap.NewProductionEncoderConfig()
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		var encoder zapcore.Encoder = zapcore.NewConsoleEncoder(enc)
		if c.Log.Format == "json" {
			encoder = zapcore.NewJSONEncoder(enc)
		}
		// slog levels are zap levels times four
		l := zap.New(zapcore.NewCore(encoder, zapcore.AddSync(w), zapcore.Level(lvl/4)))
		return mczap.New(l), func(context.Context) error { _ = l.Sync(); return nil }, nil
	case "logrus":
		l := logrus.New()
		l.SetOutput(w)
		ll, err := logrus.ParseLevel(strings.ToLower(c.Log.Level))
		if err != nil {
			return nil, nil, err
		}
		l.SetLevel(ll)
		if c.Log.Format == "json" {
			l.SetFormatter(&logrus.JSONFormatter{})
		}
		return mclogrus.New(l), nil, nil
	case "slog":
		return mcslog.New(slog.New(c.slogHandler(w, lvl))), nil, nil
	}
	return nil, nil, fmt.Errorf("config: unknown log backend %q", c.Log.Backend)
}

// snapshotTier returns nil, nil when snapshots are disabled. The returned provider
// and generation store are owned by the registry built on them.
func (c *Config) snapshotTier(ctx context.Context) (pr.Provider, gen.GenStore, error) {
	s := c.Snapshot
	if s.Provider == "" {
		return nil, nil, nil
	}

	var client goredis.UniversalClient
	if s.Provider == "redis" || s.Gens == "redis" {
		client = goredis.NewClient(&goredis.Options{Addr: s.Redis.Addr, Password: s.Redis.Password, DB: s.Redis.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("config: redis %s: %w", s.Redis.Addr, err)
		}
	}

	var (
		prov pr.Provider
		err  error
	)
	maxBytes := int64(s.MaxMB) << 20
	switch s.Provider {
	case "ristretto":
		prov, err = rsp.New(rsp.Config{MaxBytes: maxBytes})
	case "bigcache":
		// a frame must fit one of the 64 shards
		prov, err = bcp.New(bcp.Config{TTL: s.TTL, MaxMB: s.MaxMB, MaxFrameBytes: int(maxBytes / 64)})
	case "redis":
		var r *rdp.Redis
		r, err = rdp.New(rdp.Config{Client: client, MaxFrameBytes: int(maxBytes), CloseClient: true})
		prov = pr.Prefixed{Inner: r, Prefix: "catalogtree:" + c.Database.Name + ":"}
	default:
		err = fmt.Errorf("config: unknown snapshot provider %q", s.Provider)
	}
	if err != nil {
		if client != nil {
			_ = client.Close()
		}
		return nil, nil, err
	}

	if s.Gens == "redis" {
		return prov, gen.NewRedis(client, gen.RedisOptions{
			Namespace: "catalogtree:" + c.Database.Name,
			TTL:       s.Retention,
			OwnClient: s.Provider != "redis",
		}), nil
	}
	return prov, gen.NewLocal(gen.LocalOptions{Retention: s.Retention}), nil
}
