package catalog

import (
	"context"

	"github.com/unkn0wn-root/metacache"
)

type tableFactory struct{}

func (tableFactory) Convert(_ context.Context, s *Schema, r metacache.Row) ([]*Table, error) {
	name, err := metacache.RowRequiredString(r, "table_name")
	if err != nil {
		return nil, err
	}
	kind, err := metacache.RowString(r, "table_type")
	if err != nil {
		return nil, err
	}
	remarks, err := metacache.RowString(r, "remarks")
	if err != nil {
		return nil, err
	}
	return []*Table{{Name: name, Kind: ParseKind(kind), Remarks: remarks, schema: s}}, nil
}

func (tableFactory) Adopt(s *Schema, t *Table) { t.schema = s }

// columnFactory: one row per column.
type columnFactory struct{}

func (columnFactory) FetchObject(_ context.Context, _ *Schema, t *Table, r metacache.Row) (*Column, error) {
	name, err := metacache.RowRequiredString(r, "column_name")
	if err != nil {
		return nil, err
	}
	ord, err := metacache.RowInt(r, "ordinal")
	if err != nil {
		return nil, err
	}
	typ, err := metacache.RowString(r, "data_type")
	if err != nil {
		return nil, err
	}
	nullable, err := metacache.RowBool(r, "nullable")
	if err != nil {
		return nil, err
	}
	def, err := metacache.RowString(r, "column_default")
	if err != nil {
		return nil, err
	}
	return &Column{Name: name, Ordinal: int(ord), DataType: typ, Nullable: nullable, Default: def, table: t}, nil
}

func (columnFactory) FetchRow(context.Context, *Schema, *Table, *Column, metacache.Row) error {
	return nil
}

// indexFactory: one row per index column.
type indexFactory struct{ dialect Dialect }

func (f indexFactory) FetchObject(_ context.Context, _ *Schema, t *Table, r metacache.Row) (*Index, error) {
	name, err := metacache.RowRequiredString(r, "index_name")
	if err != nil {
		return nil, err
	}
	code, err := metacache.RowString(r, "index_type")
	if err != nil {
		return nil, err
	}
	typ, err := f.dialect.IndexType(code)
	if err != nil {
		return nil, err
	}
	unique, err := metacache.RowBool(r, "is_unique")
	if err != nil {
		return nil, err
	}
	return &Index{Name: name, Type: typ, Unique: unique || typ != IndexPlain, table: t}, nil
}

func (indexFactory) FetchRow(_ context.Context, _ *Schema, _ *Table, idx *Index, r metacache.Row) error {
	col, err := metacache.RowRequiredString(r, "column_name")
	if err != nil {
		return err
	}
	desc, err := metacache.RowBool(r, "descending")
	if err != nil {
		return err
	}
	idx.Columns = append(idx.Columns, IndexColumn{Name: col, Descending: desc})
	return nil
}

// foreignKeyFactory: one row per column pair.
type foreignKeyFactory struct{}

func (foreignKeyFactory) FetchObject(_ context.Context, s *Schema, t *Table, r metacache.Row) (*ForeignKey, error) {
	name, err := metacache.RowRequiredString(r, "fk_name")
	if err != nil {
		return nil, err
	}
	refTable, err := metacache.RowRequiredString(r, "ref_table")
	if err != nil {
		return nil, err
	}
	refSchema, err := metacache.RowString(r, "ref_schema")
	if err != nil {
		return nil, err
	}
	if refSchema == "" {
		refSchema = s.Name
	}
	return &ForeignKey{Name: name, RefSchema: refSchema, RefTable: refTable, table: t}, nil
}

func (foreignKeyFactory) FetchRow(_ context.Context, _ *Schema, _ *Table, fk *ForeignKey, r metacache.Row) error {
	col, err := metacache.RowRequiredString(r, "column_name")
	if err != nil {
		return err
	}
	ref, err := metacache.RowString(r, "ref_column")
	if err != nil {
		return err
	}
	fk.Columns = append(fk.Columns, FKColumn{Column: col, RefColumn: ref})
	return nil
}
