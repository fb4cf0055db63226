package catalog

import "github.com/unkn0wn-root/metacache"

// Dialect supplies the vendor-specific row sources of a catalog.
//
// Every source emits rows with the field names the factories read:
//
//	schemas:      schema_name, schema_owner
//	tables:       table_name, table_type, remarks
//	columns:      table_name, column_name, ordinal, data_type, nullable, column_default
//	indexes:      table_name, index_name, index_type, is_unique, column_name, ordinal, descending
//	foreign keys: table_name, fk_name, ref_schema, ref_table, column_name, ref_column, ordinal
//
// Child sources are opened with key "" for every table of the schema or with a table
// name, and must order rows by table name, then ordinal.
type Dialect interface {
	Name() string
	Policy() metacache.NamePolicy

	Schemas() metacache.RowSource[*Catalog]
	// SchemaLookup resolves one schema by name; nil falls back to Schemas.
	SchemaLookup() metacache.RowSource[*Catalog]

	Tables() metacache.RowSource[*Schema]
	TableLookup() metacache.RowSource[*Schema]

	Columns() metacache.RowSource[*Schema]
	Indexes() metacache.RowSource[*Schema]
	ForeignKeys() metacache.RowSource[*Schema]

	// IndexType maps a vendor index code. Unknown codes return a *metacache.RowError
	// so the index is skipped.
	IndexType(code string) (IndexType, error)
}
