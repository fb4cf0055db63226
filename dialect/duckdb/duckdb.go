// Package duckdb reads a DuckDB catalog from information_schema and the duckdb_constraints()
// table function. Only the current database is visible.
//
// DuckDB does not report secondary ART indexes column by column, so the index cache
// carries the primary key and unique constraints only.
package duckdb

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

func (d *Dialect) Name() string { return "duckdb" }

func (d *Dialect) Policy() metacache.NamePolicy {
	return metacache.NamePolicy{Mode: metacache.Lower}
}

const schemasSQL = `SELECT schema_name, schema_owner
FROM information_schema.schemata
WHERE catalog_name = current_database()`

func (d *Dialect) Schemas() metacache.RowSource[*catalog.Catalog] {
	return sqlsource.New(d.db, sqlsource.Query[*catalog.Catalog]{
		Name: "duckdb schemas",
		Build: func(*catalog.Catalog, string) (string, []any) {
			return schemasSQL + ` ORDER BY schema_name`, nil
		},
	})
}

func (d *Dialect) SchemaLookup() metacache.RowSource[*catalog.Catalog] {
	return sqlsource.New(d.db, sqlsource.Query[*catalog.Catalog]{
		Name: "duckdb schema",
		Build: func(_ *catalog.Catalog, name string) (string, []any) {
			return schemasSQL + ` AND lower(schema_name) = lower(?)`, []any{name}
		},
	})
}

const tablesSQL = `SELECT table_name, table_type, CAST(NULL AS VARCHAR) AS remarks
FROM information_schema.tables
WHERE table_catalog = current_database() AND table_schema = ?`

func (d *Dialect) Tables() metacache.RowSource[*catalog.Schema] {
	return sqlsource.New(d.db, sqlsource.Query[*catalog.Schema]{
		Name: "duckdb tables",
		Build: func(s *catalog.Schema, _ string) (string, []any) {
			return tablesSQL + ` ORDER BY table_name`, []any{s.Name}
		},
	})
}

func (d *Dialect) TableLookup() metacache.RowSource[*catalog.Schema] {
	return sqlsource.New(d.db, sqlsource.Query[*catalog.Schema]{
		Name: "duckdb table",
		Build: func(s *catalog.Schema, name string) (string, []any) {
			return tablesSQL + ` AND lower(table_name) = lower(?)`, []any{s.Name, name}
		},
	})
}

// children fills the {filter} placeholder of stmt with the table predicate when key
// names one table. The schema is always the first argument.
func (d *Dialect) children(name, stmt string) metacache.RowSource[*catalog.Schema] {
	return sqlsource.New(d.db, sqlsource.Query[*catalog.Schema]{
		Name: name,
		Build: func(s *catalog.Schema, table string) (string, []any) {
			if table == "" {
				return strings.Replace(stmt, "{filter}", "", 1), []any{s.Name}
			}
			return strings.Replace(stmt, "{filter}", "AND lower(table_name) = lower(?)", 1), []any{s.Name, table}
		},
	})
}

const columnsSQL = `SELECT table_name,
       column_name,
       ordinal_position AS ordinal,
       data_type,
       is_nullable AS nullable,
       column_default
FROM information_schema.columns
WHERE table_catalog = current_database() AND table_schema = ? {filter}
ORDER BY table_name, ordinal_position`

func (d *Dialect) Columns() metacache.RowSource[*catalog.Schema] {
	return d.children("duckdb columns", columnsSQL)
}

// Parallel unnest calls zip the column list with its positions.
const indexesSQL = `SELECT table_name, index_name, index_type, is_unique, column_name, ordinal, descending
FROM (
    SELECT table_name,
           constraint_index,
           constraint_name AS index_name,
           constraint_type AS index_type,
           TRUE AS is_unique,
           unnest(constraint_column_names) AS column_name,
           unnest(generate_series(1, len(constraint_column_names))) AS ordinal,
           FALSE AS descending
    FROM duckdb_constraints()
    WHERE database_name = current_database() AND schema_name = ?
      AND constraint_type IN ('PRIMARY KEY', 'UNIQUE') {filter}
)
ORDER BY table_name, constraint_index, ordinal`

func (d *Dialect) Indexes() metacache.RowSource[*catalog.Schema] {
	return d.children("duckdb indexes", indexesSQL)
}

// ref_schema is left empty: duckdb_constraints() only names the referenced table,
// which lives in the same schema.
const foreignKeysSQL = `SELECT table_name, fk_name, ref_table, column_name, ref_column, ordinal
FROM (
    SELECT table_name,
           constraint_index,
           constraint_name AS fk_name,
           referenced_table AS ref_table,
           unnest(constraint_column_names) AS column_name,
           unnest(referenced_column_names) AS ref_column,
           unnest(generate_series(1, len(constraint_column_names))) AS ordinal
    FROM duckdb_constraints()
    WHERE database_name = current_database() AND schema_name = ?
      AND constraint_type = 'FOREIGN KEY' {filter}
)
ORDER BY table_name, constraint_index, ordinal`

func (d *Dialect) ForeignKeys() metacache.RowSource[*catalog.Schema] {
	return d.children("duckdb foreign keys", foreignKeysSQL)
}

func (d *Dialect) IndexType(code string) (catalog.IndexType, error) {
	switch strings.ToUpper(code) {
	case "PRIMARY KEY":
		return catalog.IndexPrimaryKey, nil
	case "UNIQUE":
		return catalog.IndexUniqueConstraint, nil
	}
	return 0, metacache.RowErrorf("index_type", "unknown duckdb constraint type %q", code)
}
