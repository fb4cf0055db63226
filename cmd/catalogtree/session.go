package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/disiqueira/gotree/v3"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/unkn0wn-root/metacache/catalog"
	"github.com/unkn0wn-root/metacache/dialect/duckdb"
	"github.com/unkn0wn-root/metacache/dialect/sqlite"
	"github.com/unkn0wn-root/metacache/internal/config"
)

type session struct {
	cfg *config.Config
	env *config.Env
	db  *sql.DB
	cat *catalog.Catalog
}

func open(ctx context.Context, cfg *config.Config, logOut io.Writer) (*session, error) {
	var (
		driver  string
		dialect func(*sql.DB) catalog.Dialect
	)
	switch cfg.Database.Driver {
	case "sqlite":
		driver = "sqlite3"
		dialect = func(db *sql.DB) catalog.Dialect { return sqlite.New(db) }
	case "duckdb":
		driver = "duckdb"
		dialect = func(db *sql.DB) catalog.Dialect { return duckdb.New(db) }
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.Database.Driver)
	}

	db, err := sql.Open(driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect %s: %w", cfg.Database.Driver, err)
	}

	env, err := cfg.Build(ctx, logOut)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	d := dialect(db)
	opts := catalog.Options{Registry: env.Registry, Policy: cfg.Policy(d.Policy())}
	if cfg.Snapshot.Provider != "" {
		opts.Snapshot = cfg.Snapshot.Codec
		opts.SnapshotTTL = cfg.Snapshot.TTL
		opts.SnapshotMaxObject = cfg.Snapshot.MaxObjectKB << 10
	}
	cat, err := catalog.New(cfg.Database.Name, d, opts)
	if err != nil {
		_ = env.Close(ctx)
		_ = db.Close()
		return nil, err
	}
	return &session{cfg: cfg, env: env, db: db, cat: cat}, nil
}

func (s *session) close(ctx context.Context) error {
	return errors.Join(s.cat.Close(ctx), s.env.Close(ctx), s.db.Close())
}

// schemas resolves the named schemas, or lists all of them when names is empty.
func (s *session) schemas(ctx context.Context, names []string) ([]*catalog.Schema, error) {
	if len(names) == 0 {
		return s.cat.Schemas(ctx)
	}
	out := make([]*catalog.Schema, 0, len(names))
	for _, n := range names {
		sc, ok, err := s.cat.Schema(ctx, n)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("schema %q not found", n)
		}
		out = append(out, sc)
	}
	return out, nil
}

func (s *session) preload(ctx context.Context, schemas []*catalog.Schema) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Preload.Concurrency)
	for _, sc := range schemas {
		g.Go(func() error { return sc.Preload(ctx) })
	}
	return g.Wait()
}

func (s *session) tree(ctx context.Context, w io.Writer, only string, columns bool) error {
	start := time.Now()
	names := s.cfg.Preload.Schemas
	if only != "" {
		names = []string{only}
	}
	schemas, err := s.schemas(ctx, names)
	if err != nil {
		return err
	}
	if columns {
		if err := s.preload(ctx, schemas); err != nil {
			return err
		}
	}

	root := gotree.New(fmt.Sprintf("%s (%s)", s.cat.Name(), s.cat.Dialect().Name()))
	var nTables, nColumns int
	for _, sc := range schemas {
		tables, err := sc.Tables(ctx)
		if err != nil {
			return err
		}
		nTables += len(tables)
		node := root.Add(fmt.Sprintf("%s  %s", sc.Name, humanize.Plural(len(tables), "table", "tables")))
		for _, t := range tables {
			tn := node.Add(tableLabel(t))
			if !columns {
				continue
			}
			cols, err := t.Columns(ctx)
			if err != nil {
				return err
			}
			nColumns += len(cols)
			for _, c := range cols {
				tn.Add(columnLabel(c))
			}
		}
	}

	fmt.Fprint(w, root.Print())
	summary := fmt.Sprintf("%s, %s", humanize.Plural(len(schemas), "schema", "schemas"), humanize.Plural(nTables, "table", "tables"))
	if columns {
		summary += ", " + humanize.Comma(int64(nColumns)) + " columns"
	}
	fmt.Fprintf(w, "%s in %s\n", summary, time.Since(start).Round(time.Millisecond))
	return nil
}

func (s *session) describe(ctx context.Context, w io.Writer, schema, table string) error {
	sc, ok, err := s.cat.Schema(ctx, schema)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("schema %q not found", schema)
	}
	t, ok, err := sc.Table(ctx, table)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("table %s.%s not found", sc.Name, table)
	}

	root := gotree.New(sc.Name + "." + tableLabel(t))
	if t.Remarks != "" {
		root.Add(t.Remarks)
	}

	cols, err := t.Columns(ctx)
	if err != nil {
		return err
	}
	cn := root.Add(fmt.Sprintf("columns (%d)", len(cols)))
	for _, c := range cols {
		cn.Add(columnLabel(c))
	}

	if t.Capabilities().Has(catalog.CapIndexes) {
		idx, err := t.Indexes(ctx)
		if err != nil {
			return err
		}
		in := root.Add(fmt.Sprintf("indexes (%d)", len(idx)))
		for _, i := range idx {
			in.Add(indexLabel(i))
		}
	}

	if t.Capabilities().Has(catalog.CapForeignKeys) {
		fks, err := t.ForeignKeys(ctx)
		if err != nil {
			return err
		}
		fn := root.Add(fmt.Sprintf("foreign keys (%d)", len(fks)))
		for _, fk := range fks {
			ref := fk.RefSchema + "." + fk.RefTable
			if _, found, err := fk.Referenced(ctx); err != nil {
				return err
			} else if !found {
				ref += " " + color.YellowString("(missing)")
			}
			from := make([]string, len(fk.Columns))
			to := make([]string, len(fk.Columns))
			for i, c := range fk.Columns {
				from[i], to[i] = c.Column, c.RefColumn
			}
			fn.Add(fmt.Sprintf("%s (%s) -> %s (%s)", fk.Name, strings.Join(from, ", "), ref, strings.Join(to, ", ")))
		}
	}

	fmt.Fprint(w, root.Print())
	return nil
}

func tableLabel(t *catalog.Table) string {
	if t.Kind == catalog.KindTable {
		return t.Name
	}
	return t.Name + " " + color.CyanString("[%s]", t.Kind)
}

func columnLabel(c *catalog.Column) string {
	var b strings.Builder
	b.WriteString(c.Name)
	if c.DataType != "" {
		b.WriteString(" " + c.DataType)
	}
	if !c.Nullable {
		b.WriteString(" NOT NULL")
	}
	if c.Default != "" {
		b.WriteString(" DEFAULT " + c.Default)
	}
	return b.String()
}

func indexLabel(i *catalog.Index) string {
	cols := make([]string, len(i.Columns))
	for n, c := range i.Columns {
		cols[n] = c.Name
		if c.Descending {
			cols[n] += " DESC"
		}
	}
	kind := i.Type.String()
	if i.Type == catalog.IndexPlain && i.Unique {
		kind = "unique index"
	}
	return fmt.Sprintf("%s %s (%s)", i.Name, kind, strings.Join(cols, ", "))
}
