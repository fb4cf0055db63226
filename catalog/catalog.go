// Package catalog models a database catalog (schemas, tables, columns, indexes and
// foreign keys) on top of metacache: every level is loaded lazily on first access,
// child lists of all tables of a schema come from one query per kind, and single
// schemas or tables can be resolved without listing their siblings.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/unkn0wn-root/metacache"
	"github.com/unkn0wn-root/metacache/codec"
)

// Options configure a Catalog.
type Options struct {
	// Registry scopes the caches of the catalog; nil => a private registry that is
	// closed with the catalog.
	Registry *metacache.Registry
	Logger   metacache.Logger
	Hooks    metacache.Hooks
	// Policy overrides the dialect's name policy (quoted mixed-case identifiers).
	Policy *metacache.NamePolicy

	// Snapshot names the codec of the persisted schema and table lists ("json",
	// "cbor", "msgpack", optionally with "+zstd"). "" disables the tier. The
	// registry must carry a snapshot Provider.
	Snapshot    string
	SnapshotTTL time.Duration
	// SnapshotMaxObject bounds one decoded schema or table payload in bytes; 0 is unbounded.
	SnapshotMaxObject int
}

// Catalog is the root of one connection's object tree.
type Catalog struct {
	name    string
	dialect Dialect
	policy  metacache.NamePolicy
	scope   *metacache.Registry
	root    *metacache.Registry // non-nil when the catalog owns its registry
	opts    Options

	schemas   *metacache.LookupCache[*Catalog, *Schema]
	tableSnap *metacache.SnapshotOptions[*Table]
}

func New(name string, d Dialect, opts Options) (*Catalog, error) {
	if name == "" {
		return nil, errors.New("catalog: name is required")
	}
	if d == nil {
		return nil, errors.New("catalog: dialect is required")
	}
	c := &Catalog{name: name, dialect: d, policy: d.Policy(), opts: opts}
	if opts.Policy != nil {
		c.policy = *opts.Policy
	}

	reg := opts.Registry
	if reg == nil {
		reg = metacache.NewRegistry(metacache.RegistryOptions{Logger: opts.Logger, Hooks: opts.Hooks})
		c.root = reg
	}
	c.scope = reg.Sub(name)

	var schemaSnap *metacache.SnapshotOptions[*Schema]
	if opts.Snapshot != "" {
		if reg.Provider() == nil {
			return nil, errors.New("catalog: snapshot requires a registry provider")
		}
		sc, err := codec.ByName[*Schema](opts.Snapshot, opts.SnapshotMaxObject)
		if err != nil {
			return nil, err
		}
		tc, err := codec.ByName[*Table](opts.Snapshot, opts.SnapshotMaxObject)
		if err != nil {
			return nil, err
		}
		schemaSnap = &metacache.SnapshotOptions[*Schema]{Codec: sc, TTL: opts.SnapshotTTL}
		c.tableSnap = &metacache.SnapshotOptions[*Table]{Codec: tc, TTL: opts.SnapshotTTL}
	}

	schemas, err := metacache.NewLookupCache(metacache.Options[*Catalog, *Schema]{
		Namespace:  "schemas",
		Source:     d.Schemas(),
		Factory:    schemaFactory{},
		ObjectType: "schema",
		Policy:     &c.policy,
		Logger:     opts.Logger,
		Hooks:      opts.Hooks,
		Registry:   c.scope,
		Snapshot:   schemaSnap,
	}, d.SchemaLookup())
	if err != nil {
		return nil, err
	}
	c.schemas = schemas
	return c, nil
}

func (c *Catalog) Name() string         { return c.name }
func (c *Catalog) ObjectName() string   { return c.name }
func (c *Catalog) Dialect() Dialect     { return c.dialect }
func (c *Catalog) Namespaces() []string { return c.scope.Namespaces() }

// Schemas lists every schema, querying once.
func (c *Catalog) Schemas(ctx context.Context) ([]*Schema, error) {
	return c.schemas.GetAllObjects(ctx, c)
}

// Schema resolves one schema without listing the others.
func (c *Catalog) Schema(ctx context.Context, name string) (*Schema, bool, error) {
	return c.schemas.GetObject(ctx, c, name)
}

func (c *Catalog) CachedSchema(name string) (*Schema, bool) {
	return c.schemas.GetCachedObject(name)
}

// Refresh refetches the schema list; schemas that survive keep their caches, the
// caches of dropped schemas are closed.
func (c *Catalog) Refresh(ctx context.Context) ([]*Schema, error) {
	prev, _ := c.schemas.CachedObjects()
	fresh, err := c.schemas.Refresh(ctx, c)
	if err != nil {
		return fresh, err
	}
	live := make(map[*Schema]struct{}, len(fresh))
	for _, s := range fresh {
		live[s] = struct{}{}
	}
	var errs []error
	for _, s := range prev {
		if _, ok := live[s]; !ok {
			errs = append(errs, s.release(ctx))
		}
	}
	return fresh, errors.Join(errs...)
}

// ClearCache drops everything cached for this catalog.
func (c *Catalog) ClearCache(ctx context.Context) error {
	return c.scope.ClearAll(ctx)
}

// Close releases the catalog's caches, and its registry when the catalog owns it.
func (c *Catalog) Close(ctx context.Context) error {
	err := c.scope.Close(ctx)
	if c.root != nil {
		err = errors.Join(err, c.root.Close(ctx))
	}
	return err
}

type schemaFactory struct{}

func (schemaFactory) Convert(_ context.Context, c *Catalog, r metacache.Row) ([]*Schema, error) {
	name, err := metacache.RowRequiredString(r, "schema_name")
	if err != nil {
		return nil, err
	}
	owner, err := metacache.RowString(r, "schema_owner")
	if err != nil {
		return nil, err
	}
	return []*Schema{{Name: name, Owner: owner, catalog: c}}, nil
}

func (schemaFactory) Adopt(c *Catalog, s *Schema) { s.catalog = c }
