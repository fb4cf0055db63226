package catalog

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/metacache"
)

// Schema owns the table list and the per-table child lists of one schema.
// Its caches are built on first use, so schemas decoded from a snapshot or dropped
// by a refresh merge cost nothing.
type Schema struct {
	Name  string `json:"name" msgpack:"name" cbor:"1,keyasint"`
	Owner string `json:"owner,omitempty" msgpack:"owner,omitempty" cbor:"2,keyasint,omitempty"`

	catalog *Catalog

	once sync.Once
	c    *schemaCaches
	err  error
}

type schemaCaches struct {
	scope       *metacache.Registry
	tables      *metacache.LookupCache[*Schema, *Table]
	columns     *metacache.CompositeCache[*Schema, *Table, *Column]
	indexes     *metacache.CompositeCache[*Schema, *Table, *Index]
	foreignKeys *metacache.CompositeCache[*Schema, *Table, *ForeignKey]
}

func (s *Schema) ObjectName() string { return s.Name }
func (s *Schema) Catalog() *Catalog  { return s.catalog }

func (s *Schema) RefreshFrom(src *Schema) { s.Owner = src.Owner }

func (s *Schema) caches() (*schemaCaches, error) {
	s.once.Do(func() { s.c, s.err = newSchemaCaches(s) })
	return s.c, s.err
}

// release closes the caches of a schema dropped by a refresh. A dropped schema that
// never built its caches will not build them later.
func (s *Schema) release(ctx context.Context) error {
	built := true
	s.once.Do(func() {
		built = false
		s.err = fmt.Errorf("catalog: schema %s was dropped", s.Name)
	})
	if !built || s.c == nil {
		return nil
	}
	return s.c.scope.Close(ctx)
}

func tableKey(r metacache.Row) (string, error) { return metacache.RowRequiredString(r, "table_name") }

func newSchemaCaches(s *Schema) (*schemaCaches, error) {
	cat := s.catalog
	d := cat.dialect
	sc := &schemaCaches{scope: cat.scope.Sub("schema=" + s.Name)}
	tables, err := metacache.NewLookupCache(metacache.Options[*Schema, *Table]{
		Namespace:  "tables",
		Source:     d.Tables(),
		Factory:    tableFactory{},
		ObjectType: "table",
		Policy:     &cat.policy,
		Logger:     cat.opts.Logger,
		Hooks:      cat.opts.Hooks,
		Registry:   sc.scope,
		Snapshot:   cat.tableSnap,
	}, d.TableLookup())
	if err != nil {
		return nil, err
	}
	sc.tables = tables

	if sc.columns, err = metacache.NewCompositeCache(tables.ObjectCache, metacache.CompositeOptions[*Schema, *Table, *Column]{
		Namespace:  "columns",
		ObjectType: "column",
		Source:     d.Columns(),
		Factory:    columnFactory{},
		ParentKey:  tableKey,
		ObjectKey:  func(r metacache.Row) (string, error) { return metacache.RowRequiredString(r, "column_name") },
		Policy:     &cat.policy,
		Logger:     cat.opts.Logger,
		Hooks:      cat.opts.Hooks,
		Registry:   sc.scope,
	}); err != nil {
		return nil, err
	}
	if sc.indexes, err = metacache.NewCompositeCache(tables.ObjectCache, metacache.CompositeOptions[*Schema, *Table, *Index]{
		Namespace:  "indexes",
		ObjectType: "index",
		Source:     d.Indexes(),
		Factory:    indexFactory{dialect: d},
		ParentKey:  tableKey,
		ObjectKey:  func(r metacache.Row) (string, error) { return metacache.RowRequiredString(r, "index_name") },
		Policy:     &cat.policy,
		Logger:     cat.opts.Logger,
		Hooks:      cat.opts.Hooks,
		Registry:   sc.scope,
	}); err != nil {
		return nil, err
	}
	if sc.foreignKeys, err = metacache.NewCompositeCache(tables.ObjectCache, metacache.CompositeOptions[*Schema, *Table, *ForeignKey]{
		Namespace:  "foreign_keys",
		ObjectType: "foreign key",
		Source:     d.ForeignKeys(),
		Factory:    foreignKeyFactory{},
		ParentKey:  tableKey,
		ObjectKey:  func(r metacache.Row) (string, error) { return metacache.RowRequiredString(r, "fk_name") },
		Policy:     &cat.policy,
		Logger:     cat.opts.Logger,
		Hooks:      cat.opts.Hooks,
		Registry:   sc.scope,
	}); err != nil {
		return nil, err
	}
	return sc, nil
}

// Tables lists every table of the schema, querying once.
func (s *Schema) Tables(ctx context.Context) ([]*Table, error) {
	c, err := s.caches()
	if err != nil {
		return nil, err
	}
	return c.tables.GetAllObjects(ctx, s)
}

// Table resolves one table without listing the schema.
func (s *Schema) Table(ctx context.Context, name string) (*Table, bool, error) {
	c, err := s.caches()
	if err != nil {
		return nil, false, err
	}
	return c.tables.GetObject(ctx, s, name)
}

func (s *Schema) CachedTable(name string) (*Table, bool) {
	c, err := s.caches()
	if err != nil {
		return nil, false
	}
	return c.tables.GetCachedObject(name)
}

// Preload loads the table list, then columns, indexes and foreign keys of every
// table, one query per kind.
func (s *Schema) Preload(ctx context.Context) error {
	c, err := s.caches()
	if err != nil {
		return err
	}
	if _, err := c.tables.GetAllObjects(ctx, s); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := c.columns.GetAllObjects(gctx, s)
		return err
	})
	g.Go(func() error {
		_, err := c.indexes.GetAllObjects(gctx, s)
		return err
	})
	g.Go(func() error {
		_, err := c.foreignKeys.GetAllObjects(gctx, s)
		return err
	})
	return g.Wait()
}

// Refresh refetches the table list (tables keep their identity), then every child
// list already attached: fully loaded kinds with one query, tables loaded one by one
// with one query each. Child lists of dropped tables are detached.
func (s *Schema) Refresh(ctx context.Context) error {
	c, err := s.caches()
	if err != nil {
		return err
	}
	tables, err := c.tables.Refresh(ctx, s)
	if err != nil {
		return err
	}
	if err := refreshChildren(ctx, s, c.columns, tables); err != nil {
		return err
	}
	if err := refreshChildren(ctx, s, c.indexes, tables); err != nil {
		return err
	}
	return refreshChildren(ctx, s, c.foreignKeys, tables)
}

func refreshChildren[C metacache.Object](ctx context.Context, s *Schema, cc *metacache.CompositeCache[*Schema, *Table, C], tables []*Table) error {
	if cc.Loaded() {
		_, err := cc.Refresh(ctx, s)
		return err
	}
	cc.Retain(tables)
	for _, t := range tables {
		if _, ok := cc.GetCachedObjects(t); !ok {
			continue
		}
		if _, err := cc.RefreshParent(ctx, s, t); err != nil {
			return err
		}
	}
	return nil
}

// ClearCache drops the schema's table list and child lists.
func (s *Schema) ClearCache(ctx context.Context) error {
	c, err := s.caches()
	if err != nil {
		return err
	}
	return c.scope.ClearAll(ctx)
}
