// Package sqlite reads the SQLite catalog through the pragma table-valued functions.
// Every attached database is a schema.
package sqlite

import (
	"strings"

	"github.com/unkn0wn-root/metacache"
	"github.com/unkn0wn-root/metacache/catalog"
	"github.com/unkn0wn-root/metacache/sqlsource"
)

type Dialect struct {
	db sqlsource.Queryer
}

var _ catalog.Dialect = (*Dialect)(nil)

func New(db sqlsource.Queryer) *Dialect { return &Dialect{db: db} }

func (d *Dialect) Name() string { return "sqlite" }

// Policy: SQLite identifiers are case-insensitive (ASCII).
func (d *Dialect) Policy() metacache.NamePolicy {
	return metacache.NamePolicy{Mode: metacache.Lower}
}

const schemasSQL = `SELECT name AS schema_name, '' AS schema_owner FROM pragma_database_list`

func (d *Dialect) Schemas() metacache.RowSource[*catalog.Catalog] {
	return sqlsource.New(d.db, sqlsource.Query[*catalog.Catalog]{
		Name: "sqlite schemas",
		Build: func(*catalog.Catalog, string) (string, []any) {
			return schemasSQL + ` ORDER BY seq`, nil
		},
	})
}

func (d *Dialect) SchemaLookup() metacache.RowSource[*catalog.Catalog] {
	return sqlsource.New(d.db, sqlsource.Query[*catalog.Catalog]{
		Name: "sqlite schema",
		Build: func(_ *catalog.Catalog, name string) (string, []any) {
			return schemasSQL + ` WHERE name = ? COLLATE NOCASE`, []any{name}
		},
	})
}

func tablesSQL(schema string) string {
	return `SELECT name AS table_name,
       CASE WHEN type = 'view' THEN 'VIEW'
            WHEN name LIKE 'sqlite\_%' ESCAPE '\' THEN 'SYSTEM TABLE'
            ELSE 'TABLE' END AS table_type,
       NULL AS remarks
FROM ` + quote(schema) + `.sqlite_master
WHERE type IN ('table', 'view')`
}

func (d *Dialect) Tables() metacache.RowSource[*catalog.Schema] {
	return sqlsource.New(d.db, sqlsource.Query[*catalog.Schema]{
		Name: "sqlite tables",
		Build: func(s *catalog.Schema, _ string) (string, []any) {
			return tablesSQL(s.Name) + ` ORDER BY name`, nil
		},
	})
}

func (d *Dialect) TableLookup() metacache.RowSource[*catalog.Schema] {
	return sqlsource.New(d.db, sqlsource.Query[*catalog.Schema]{
		Name: "sqlite table",
		Build: func(s *catalog.Schema, name string) (string, []any) {
			return tablesSQL(s.Name) + ` AND name = ? COLLATE NOCASE`, []any{name}
		},
	})
}

// children builds a per-table query: args are the statement's own arguments, the
// table filter is appended when key names one table.
func (d *Dialect) children(name, sel, order string, args func(s *catalog.Schema) []any) metacache.RowSource[*catalog.Schema] {
	return sqlsource.New(d.db, sqlsource.Query[*catalog.Schema]{
		Name: name,
		Build: func(s *catalog.Schema, table string) (string, []any) {
			stmt := strings.ReplaceAll(sel, "{schema}", quote(s.Name))
			a := args(s)
			if table != "" {
				stmt += ` AND m.name = ? COLLATE NOCASE`
				a = append(a, table)
			}
			return stmt + ` ORDER BY ` + order, a
		},
	})
}

const columnsSQL = `SELECT m.name AS table_name,
       p.cid + 1 AS ordinal,
       p.name AS column_name,
       p.type AS data_type,
       NOT p."notnull" AS nullable,
       p.dflt_value AS column_default
FROM {schema}.sqlite_master AS m
JOIN pragma_table_info(m.name, ?) AS p
WHERE m.type IN ('table', 'view')`

func (d *Dialect) Columns() metacache.RowSource[*catalog.Schema] {
	return d.children("sqlite columns", columnsSQL, `m.name, p.cid`, func(s *catalog.Schema) []any {
		return []any{s.Name}
	})
}

const indexesSQL = `SELECT m.name AS table_name,
       il.name AS index_name,
       il.origin AS index_type,
       il."unique" AS is_unique,
       ix.seqno AS ordinal,
       ix.name AS column_name,
       ix."desc" AS descending
FROM {schema}.sqlite_master AS m
JOIN pragma_index_list(m.name, ?) AS il
JOIN pragma_index_xinfo(il.name, ?) AS ix
WHERE m.type = 'table' AND ix.key = 1`

func (d *Dialect) Indexes() metacache.RowSource[*catalog.Schema] {
	return d.children("sqlite indexes", indexesSQL, `m.name, il.name, ix.seqno`, func(s *catalog.Schema) []any {
		return []any{s.Name, s.Name}
	})
}

// SQLite foreign keys are unnamed; fk_name is derived from the table and the key id.
const foreignKeysSQL = `SELECT m.name AS table_name,
       m.name || '_fk_' || fk.id AS fk_name,
       ? AS ref_schema,
       fk."table" AS ref_table,
       fk."from" AS column_name,
       fk."to" AS ref_column,
       fk.seq AS ordinal
FROM {schema}.sqlite_master AS m
JOIN pragma_foreign_key_list(m.name, ?) AS fk
WHERE m.type = 'table'`

func (d *Dialect) ForeignKeys() metacache.RowSource[*catalog.Schema] {
	return d.children("sqlite foreign keys", foreignKeysSQL, `m.name, fk.id, fk.seq`, func(s *catalog.Schema) []any {
		return []any{s.Name, s.Name}
	})
}

// IndexType maps pragma_index_list origin codes.
func (d *Dialect) IndexType(code string) (catalog.IndexType, error) {
	switch code {
	case "pk":
		return catalog.IndexPrimaryKey, nil
	case "u":
		return catalog.IndexUniqueConstraint, nil
	case "c":
		return catalog.IndexPlain, nil
	}
	return 0, metacache.RowErrorf("index_type", "unknown sqlite index origin %q", code)
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
