// Package config loads the catalogtree configuration file and builds the metacache
// environment (logger, hooks, snapshot provider and generation store) from it.
package config

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/unkn0wn-root/metacache"
	"github.com/unkn0wn-root/metacache/codec"
)

type Config struct {
	Database Database `toml:"database"`
	Names    Names    `toml:"names"`
	Snapshot Snapshot `toml:"snapshot"`
	Log      Log      `toml:"log"`
	Preload  Preload  `toml:"preload"`
}

type Database struct {
	Driver string `toml:"driver"` // sqlite | duckdb
	DSN    string `toml:"dsn"`
	Name   string `toml:"name"` // catalog name, namespace prefix of every cache
}

// Names overrides the dialect's identifier policy. Empty Case keeps the dialect's.
type Names struct {
	Case string `toml:"case"` // exact | upper | lower
	Trim bool   `toml:"trim"`
}

type Snapshot struct {
	Provider    string        `toml:"provider"` // "" (disabled) | ristretto | bigcache | redis
	Codec       string        `toml:"codec"`
	TTL         time.Duration `toml:"ttl"`
	Gens        string        `toml:"gens"` // local | redis
	Retention   time.Duration `toml:"retention"`
	MaxMB       int           `toml:"max_mb"`
	MaxObjectKB int           `toml:"max_object_kb"` // one decoded schema or table
	Redis       Redis         `toml:"redis"`
}

type Redis struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type Log struct {
	Backend string `toml:"backend"` // zap | logrus | slog
	Level   string `toml:"level"`
	Format  string `toml:"format"` // text | json

	// Hook events are logged through slog; async queues them off the load path.
	Hooks       bool   `toml:"hooks"`
	AsyncHooks  bool   `toml:"async_hooks"`
	SampleEvery uint64 `toml:"sample_every"`
}

type Preload struct {
	Schemas     []string `toml:"schemas"`
	Concurrency int      `toml:"concurrency"`
}

func Default() *Config {
	return &Config{
		Database: Database{Driver: "sqlite", Name: "db"},
		Snapshot: Snapshot{
			Codec:       "msgpack+zstd",
			TTL:         30 * time.Minute,
			Gens:        "local",
			Retention:   24 * time.Hour,
			MaxMB:       64,
			MaxObjectKB: 1024,
			Redis:       Redis{Addr: "localhost:6379"},
		},
		Log:     Log{Backend: "slog", Level: "info", Format: "text", Hooks: true, AsyncHooks: true},
		Preload: Preload{Concurrency: 4},
	}
}

// Load reads path over the defaults. An empty path yields the defaults. Unknown
// keys are rejected so typos do not silently fall back to defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: read")
	}
	return parse(cfg, string(b), path)
}

// Parse decodes TOML text over the defaults.
func Parse(text string) (*Config, error) {
	return parse(Default(), text, "config")
}

func parse(cfg *Config, text, src string) (*Config, error) {
	md, err := toml.Decode(text, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "config: decode %s", src)
	}
	if und := md.Undecoded(); len(und) > 0 {
		keys := make([]string, len(und))
		for i, k := range und {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("config: unknown keys in %s: %s", src, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string
	bad := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.DSN == "" {
			bad("database.dsn is required for sqlite")
		}
	case "duckdb":
	default:
		bad("database.driver %q is not one of sqlite, duckdb", c.Database.Driver)
	}
	if c.Database.Name == "" {
		bad("database.name is required")
	}
	if _, ok := metacache.ParseCaseMode(c.Names.Case); !ok {
		bad("names.case %q is not one of exact, upper, lower", c.Names.Case)
	}

	s := c.Snapshot
	if !slices.Contains([]string{"", "ristretto", "bigcache", "redis"}, s.Provider) {
		bad("snapshot.provider %q is not one of ristretto, bigcache, redis", s.Provider)
	}
	if s.Provider != "" {
		if cd, err := codec.ByName[any](s.Codec, 0); err != nil {
			bad("snapshot.codec: %v", err)
		} else if cl, ok := cd.(io.Closer); ok {
			_ = cl.Close()
		}
		if s.MaxObjectKB < 0 {
			bad("snapshot.max_object_kb must not be negative")
		}
		if s.TTL <= 0 {
			bad("snapshot.ttl must be positive")
		}
		switch s.Gens {
		case "local":
			// a pruned generation reads as 0 again and would revive frames stored before
			// its first bump
			if s.Retention <= s.TTL {
				bad("snapshot.retention (%s) must exceed snapshot.ttl (%s)", s.Retention, s.TTL)
			}
		case "redis":
		default:
			bad("snapshot.gens %q is not one of local, redis", s.Gens)
		}
		if (s.Provider == "redis" || s.Gens == "redis") && s.Redis.Addr == "" {
			bad("snapshot.redis.addr is required")
		}
		if s.Provider == "redis" && s.Gens == "local" {
			bad("snapshot.gens must be redis when frames are shared through redis")
		}
	}

	if !slices.Contains([]string{"zap", "logrus", "slog"}, c.Log.Backend) {
		bad("log.backend %q is not one of zap, logrus, slog", c.Log.Backend)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		bad("log.level: %v", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		bad("log.format %q is not one of text, json", c.Log.Format)
	}
	if c.Preload.Concurrency < 1 {
		bad("preload.concurrency must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Policy applies the [names] overrides to the dialect's policy. It returns nil when
// nothing is overridden.
func (c *Config) Policy(base metacache.NamePolicy) *metacache.NamePolicy {
	if c.Names.Case == "" && !c.Names.Trim {
		return nil
	}
	if c.Names.Case != "" {
		base.Mode, _ = metacache.ParseCaseMode(c.Names.Case)
	}
	base.Trim = base.Trim || c.Names.Trim
	return &base
}
