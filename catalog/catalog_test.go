package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/metacache"
	"github.com/unkn0wn-root/metacache/internal/testsource"
	"github.com/unkn0wn-root/metacache/provider/ristretto"
)

type fakeDialect struct {
	schemas, schemaLookup                    *testsource.Source[*Catalog]
	tables, tableLookup, columns, idx, fkeys *testsource.Source[*Schema]
}

func newFakeDialect() *fakeDialect {
	d := &fakeDialect{
		schemas:      testsource.New[*Catalog](),
		schemaLookup: testsource.New[*Catalog](),
		tables:       testsource.New[*Schema](),
		tableLookup:  testsource.New[*Schema](),
		columns:      testsource.New[*Schema](),
		idx:          testsource.New[*Schema](),
		fkeys:        testsource.New[*Schema](),
	}
	d.schemas.Set("", schemaRow("main"), schemaRow("audit"))
	d.schemaLookup.Set("main", schemaRow("main"))
	d.schemaLookup.Set("audit", schemaRow("audit"))
	d.tables.Set("",
		tableRow("users", "BASE TABLE"),
		tableRow("orders", "TABLE"),
		tableRow("active_users", "VIEW"),
	)
	d.tableLookup.Set("users", tableRow("users", "TABLE"))
	d.columns.Set("",
		colRow("orders", "id", 1), colRow("orders", "user_id", 2),
		colRow("users", "id", 1), colRow("users", "email", 2),
		colRow("active_users", "id", 1),
	)
	d.columns.Set("users", colRow("users", "id", 1), colRow("users", "email", 2))
	d.idx.Set("",
		idxRow("orders", "orders_pk", "pk", "id"),
		idxRow("orders", "orders_fts", "fts", "user_id"),
		idxRow("users", "users_email", "u", "email"),
	)
	d.fkeys.Set("orders", fkRow("orders", "fk_orders_users", "users", "user_id", "id"))
	return d
}

func schemaRow(name string) metacache.MapRow {
	return metacache.MapRow{"schema_name": name, "schema_owner": "dba"}
}

func tableRow(name, kind string) metacache.MapRow {
	return metacache.MapRow{"table_name": name, "table_type": kind}
}

func colRow(table, col string, ord int) metacache.MapRow {
	return metacache.MapRow{"table_name": table, "column_name": col, "ordinal": ord, "data_type": "INTEGER", "nullable": "YES"}
}

func idxRow(table, name, code, col string) metacache.MapRow {
	return metacache.MapRow{"table_name": table, "index_name": name, "index_type": code, "column_name": col, "is_unique": 0}
}

func fkRow(table, name, ref, col, refCol string) metacache.MapRow {
	return metacache.MapRow{"table_name": table, "fk_name": name, "ref_table": ref, "column_name": col, "ref_column": refCol}
}

func (d *fakeDialect) Name() string                                { return "fake" }
func (d *fakeDialect) Policy() metacache.NamePolicy                { return metacache.NamePolicy{Mode: metacache.Lower} }
func (d *fakeDialect) Schemas() metacache.RowSource[*Catalog]      { return d.schemas }
func (d *fakeDialect) SchemaLookup() metacache.RowSource[*Catalog] { return d.schemaLookup }
func (d *fakeDialect) Tables() metacache.RowSource[*Schema]        { return d.tables }
func (d *fakeDialect) TableLookup() metacache.RowSource[*Schema]   { return d.tableLookup }
func (d *fakeDialect) Columns() metacache.RowSource[*Schema]       { return d.columns }
func (d *fakeDialect) Indexes() metacache.RowSource[*Schema]       { return d.idx }
func (d *fakeDialect) ForeignKeys() metacache.RowSource[*Schema]   { return d.fkeys }

func (d *fakeDialect) IndexType(code string) (IndexType, error) {
	switch code {
	case "pk":
		return IndexPrimaryKey, nil
	case "u":
		return IndexUniqueConstraint, nil
	case "c":
		return IndexPlain, nil
	}
	return 0, metacache.RowErrorf("index_type", "unknown index type %q", code)
}

func openFake(t *testing.T, opts Options) (*Catalog, *fakeDialect) {
	t.Helper()
	d := newFakeDialect()
	c, err := New("conn1", d, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c, d
}

func mustSchema(t *testing.T, c *Catalog, name string) *Schema {
	t.Helper()
	s, ok, err := c.Schema(context.Background(), name)
	require.NoError(t, err)
	require.True(t, ok, "schema %s", name)
	return s
}

func TestCatalogLazyTree(t *testing.T) {
	ctx := context.Background()
	c, d := openFake(t, Options{})

	schemas, err := c.Schemas(ctx)
	require.NoError(t, err)
	require.Len(t, schemas, 2)
	require.Equal(t, 0, d.tables.Total(), "tables are loaded lazily")

	main := mustSchema(t, c, "MAIN")
	require.Same(t, schemas[0], main)

	tables, err := main.Tables(ctx)
	require.NoError(t, err)
	require.Len(t, tables, 3)
	require.Equal(t, KindTable, tables[0].Kind)
	require.Equal(t, KindView, tables[2].Kind)

	orders, ok := main.CachedTable("Orders")
	require.True(t, ok)
	cols, err := orders.Columns(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"id", "user_id"}, []string{cols[0].Name, cols[1].Name})
	require.True(t, cols[0].Nullable)
	require.Same(t, orders, cols[0].Table())

	// one query served every table
	users, _ := main.CachedTable("users")
	ucols, err := users.Columns(ctx)
	require.NoError(t, err)
	require.Len(t, ucols, 2)
	require.Equal(t, 1, d.columns.Total())

	// views have no indexes, no query is issued
	view, _ := main.CachedTable("active_users")
	vidx, err := view.Indexes(ctx)
	require.NoError(t, err)
	require.Empty(t, vidx)
	require.Equal(t, 0, d.idx.Total())
	require.Equal(t, 1, d.schemas.Total())
}

func TestCatalogIndexesSkipUnknownTypes(t *testing.T) {
	ctx := context.Background()
	c, _ := openFake(t, Options{})
	main := mustSchema(t, c, "main")
	_, err := main.Tables(ctx)
	require.NoError(t, err)
	orders, ok := main.CachedTable("orders")
	require.True(t, ok)

	idx, err := orders.Indexes(ctx)
	require.NoError(t, err)
	require.Len(t, idx, 1, "the fts index has an unknown type code and is skipped")

	pk, ok, err := orders.PrimaryKey(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "orders_pk", pk.Name)
	require.True(t, pk.Unique)
	require.Equal(t, []IndexColumn{{Name: "id"}}, pk.Columns)
}

func TestForeignKeyReferencedUsesNarrowLookup(t *testing.T) {
	ctx := context.Background()
	c, d := openFake(t, Options{})

	audit := mustSchema(t, c, "audit")
	require.Equal(t, "dba", audit.Owner)
	require.Equal(t, 0, d.schemas.Total(), "a single schema is resolved without listing")
	require.Equal(t, 1, d.schemaLookup.Calls("audit"))

	main := mustSchema(t, c, "main")
	orders, ok, err := main.Table(ctx, "orders")
	require.NoError(t, err)
	require.False(t, ok, "orders is not served by the narrow source")
	require.Equal(t, 0, d.tables.Total())

	d.tableLookup.Set("orders", tableRow("orders", "TABLE"))
	orders, ok, err = main.Table(ctx, "orders")
	require.NoError(t, err)
	require.True(t, ok)

	fks, err := orders.ForeignKeys(ctx)
	require.NoError(t, err)
	require.Len(t, fks, 1)
	require.Equal(t, "main", fks[0].RefSchema)
	require.Equal(t, []FKColumn{{Column: "user_id", RefColumn: "id"}}, fks[0].Columns)

	ref, ok, err := fks[0].Referenced(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "users", ref.Name)
	require.Equal(t, 0, d.tables.Total(), "no full table list for a reference")
	require.Equal(t, 1, d.tableLookup.Calls("users"))
}

func TestSchemaPreloadAndRefresh(t *testing.T) {
	ctx := context.Background()
	c, d := openFake(t, Options{})
	main := mustSchema(t, c, "main")
	require.NoError(t, main.Preload(ctx))
	require.Equal(t, 1, d.columns.Calls(""))
	require.Equal(t, 1, d.idx.Calls(""))
	require.Equal(t, 1, d.fkeys.Calls(""))

	users, _ := main.CachedTable("users")
	before, err := users.Columns(ctx)
	require.NoError(t, err)

	d.tables.Set("", tableRow("users", "TABLE"), tableRow("invoices", "TABLE"))
	d.columns.Set("",
		colRow("invoices", "id", 1),
		colRow("users", "id", 1), colRow("users", "email", 2), colRow("users", "name", 3),
	)
	require.NoError(t, main.Refresh(ctx))

	again, _ := main.CachedTable("users")
	require.Same(t, users, again, "tables keep identity across a refresh")
	after, err := users.Columns(ctx)
	require.NoError(t, err)
	require.Len(t, after, 3)
	require.Same(t, before[0], after[0], "columns keep identity across a refresh")
	_, ok := main.CachedTable("orders")
	require.False(t, ok)

	require.Contains(t, c.Namespaces(), "conn1/schema=main/columns")
}

func TestCatalogClearCache(t *testing.T) {
	ctx := context.Background()
	c, d := openFake(t, Options{})
	main := mustSchema(t, c, "main")
	_, err := main.Tables(ctx)
	require.NoError(t, err)

	require.NoError(t, c.ClearCache(ctx))
	_, err = main.Tables(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, d.tables.Calls(""))
}

func TestCatalogSnapshotWarmStart(t *testing.T) {
	ctx := context.Background()
	prov, err := ristretto.New(ristretto.Config{MaxBytes: 1 << 20, SyncWrites: true})
	require.NoError(t, err)
	reg := metacache.NewRegistry(metacache.RegistryOptions{Provider: prov})
	t.Cleanup(func() { _ = reg.Close(ctx) })

	for _, codec := range []string{"json", "msgpack+zstd"} {
		t.Run(codec, func(t *testing.T) {
			scope := reg.Sub(codec)
			first, _ := openFake(t, Options{Registry: scope, Snapshot: codec})
			tables, err := mustSchema(t, first, "main").Tables(ctx)
			require.NoError(t, err)
			require.Len(t, tables, 3)
			_, err = first.Schemas(ctx)
			require.NoError(t, err)

			second, d := openFake(t, Options{Registry: scope, Snapshot: codec})
			schemas, err := second.Schemas(ctx)
			require.NoError(t, err)
			require.Len(t, schemas, 2)
			warm, err := schemas[0].Tables(ctx)
			require.NoError(t, err)
			require.Len(t, warm, 3)
			require.Equal(t, KindView, warm[2].Kind)
			require.Same(t, schemas[0], warm[0].Schema(), "decoded tables are re-attached to their schema")
			require.Equal(t, 0, d.schemas.Total()+d.tables.Total())

			cols, err := warm[0].Columns(ctx)
			require.NoError(t, err)
			require.Len(t, cols, 2)
		})
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New("", newFakeDialect(), Options{})
	require.EqualError(t, err, "catalog: name is required")
	_, err = New("x", nil, Options{})
	require.EqualError(t, err, "catalog: dialect is required")
	_, err = New("x", newFakeDialect(), Options{Snapshot: "json"})
	require.EqualError(t, err, "catalog: snapshot requires a registry provider")
}

func TestCatalogPolicyOverride(t *testing.T) {
	ctx := context.Background()
	exact := metacache.NamePolicy{Mode: metacache.Exact}
	c, _ := openFake(t, Options{Policy: &exact})
	_, err := c.Schemas(ctx)
	require.NoError(t, err)

	_, ok := c.CachedSchema("MAIN")
	require.False(t, ok)
	_, ok = c.CachedSchema("main")
	require.True(t, ok)
}

func TestCatalogNamespacesStableAcrossReloads(t *testing.T) {
	ctx := context.Background()
	c, _ := openFake(t, Options{})

	var sizes []int
	for range 3 {
		schemas, err := c.Schemas(ctx)
		require.NoError(t, err)
		for _, s := range schemas {
			_, err := s.Tables(ctx)
			require.NoError(t, err)
		}
		ns := c.Namespaces()
		seen := make(map[string]bool, len(ns))
		for _, n := range ns {
			require.False(t, seen[n], "duplicate namespace %s", n)
			seen[n] = true
		}
		require.True(t, seen["conn1/schema=main/tables"])
		sizes = append(sizes, len(ns))
		require.NoError(t, c.ClearCache(ctx))
	}
	require.Equal(t, []int{sizes[0], sizes[0], sizes[0]}, sizes)
}

func TestCatalogRefreshReleasesDroppedSchemas(t *testing.T) {
	ctx := context.Background()
	c, d := openFake(t, Options{})
	d.schemas.Set("", schemaRow("main"), schemaRow("audit"), schemaRow("stage"))
	_, err := c.Schemas(ctx)
	require.NoError(t, err)
	main := mustSchema(t, c, "main")
	audit := mustSchema(t, c, "audit")
	stage := mustSchema(t, c, "stage")
	_, err = main.Tables(ctx)
	require.NoError(t, err)
	_, err = audit.Tables(ctx)
	require.NoError(t, err)
	require.Contains(t, c.Namespaces(), "conn1/schema=audit/tables")

	d.schemas.Set("", schemaRow("main"))
	fresh, err := c.Refresh(ctx)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	require.Same(t, main, fresh[0])

	for _, n := range c.Namespaces() {
		require.NotContains(t, n, "schema=audit")
	}
	require.Contains(t, c.Namespaces(), "conn1/schema=main/tables")

	// a dropped schema that never loaded anything stays empty
	_, err = stage.Tables(ctx)
	require.Error(t, err)
	for _, n := range c.Namespaces() {
		require.NotContains(t, n, "schema=stage")
	}
}

func TestSchemaRefreshKeepsPartiallyLoadedChildren(t *testing.T) {
	ctx := context.Background()
	c, d := openFake(t, Options{})
	main := mustSchema(t, c, "main")

	users, ok, err := main.Table(ctx, "users")
	require.NoError(t, err)
	require.True(t, ok)
	before, err := users.Columns(ctx)
	require.NoError(t, err)
	require.Len(t, before, 2)
	require.Equal(t, 1, d.columns.Calls("users"))

	d.columns.Set("users", colRow("users", "id", 1), colRow("users", "email", 2), colRow("users", "name", 3))
	require.NoError(t, main.Refresh(ctx))

	again, ok := main.CachedTable("users")
	require.True(t, ok)
	require.Same(t, users, again)
	after, err := users.Columns(ctx)
	require.NoError(t, err)
	require.Len(t, after, 3)
	require.Same(t, before[0], after[0], "columns keep identity across a refresh")
	require.Equal(t, 2, d.columns.Calls("users"))
	require.Equal(t, 0, d.columns.Calls(""), "only attached tables are refetched")

	orders, ok := main.CachedTable("orders")
	require.True(t, ok)
	_, err = orders.Columns(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, d.columns.Calls(""))
}
