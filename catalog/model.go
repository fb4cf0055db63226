package catalog

import (
	"context"
	"strings"

	"github.com/unkn0wn-root/metacache"
)

// Kind of a table-like object.
type Kind string

const (
	KindTable  Kind = "TABLE"
	KindView   Kind = "VIEW"
	KindSystem Kind = "SYSTEM TABLE"
)

// ParseKind maps vendor spellings onto Kind. Unknown kinds are kept verbatim; they
// get the capabilities of a plain table.
func ParseKind(s string) Kind {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "TABLE", "BASE TABLE", "LOCAL TEMPORARY":
		return KindTable
	case "VIEW":
		return KindView
	case "SYSTEM TABLE", "SYSTEM VIEW":
		return KindSystem
	}
	return Kind(strings.ToUpper(strings.TrimSpace(s)))
}

// Capabilities gate which child caches a table consults.
type Capabilities uint8

const (
	CapColumns Capabilities = 1 << iota
	CapIndexes
	CapForeignKeys
	CapDDL
)

func (c Capabilities) Has(f Capabilities) bool { return c&f == f }

func (k Kind) Capabilities() Capabilities {
	switch k {
	case KindView:
		return CapColumns | CapDDL
	case KindSystem:
		return CapColumns
	}
	return CapColumns | CapIndexes | CapForeignKeys | CapDDL
}

// Table is any table-like catalog object. Kind decides what it supports.
type Table struct {
	Name    string `json:"name" msgpack:"name" cbor:"1,keyasint"`
	Kind    Kind   `json:"kind" msgpack:"kind" cbor:"2,keyasint"`
	Remarks string `json:"remarks,omitempty" msgpack:"remarks,omitempty" cbor:"3,keyasint,omitempty"`

	schema *Schema
}

func (t *Table) ObjectName() string { return t.Name }

func (t *Table) RefreshFrom(src *Table) {
	t.Kind = src.Kind
	t.Remarks = src.Remarks
}

func (t *Table) Schema() *Schema { return t.schema }

func (t *Table) Capabilities() Capabilities { return t.Kind.Capabilities() }

// Columns returns the columns in ordinal order.
func (t *Table) Columns(ctx context.Context) ([]*Column, error) {
	if !t.Capabilities().Has(CapColumns) {
		return nil, nil
	}
	c, err := t.schema.caches()
	if err != nil {
		return nil, err
	}
	return childrenOf(ctx, t, c, c.columns)
}

func (t *Table) Column(ctx context.Context, name string) (*Column, bool, error) {
	cols, err := t.Columns(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, col := range cols {
		if t.schema.catalog.policy.Equal(col.Name, name) {
			return col, true, nil
		}
	}
	return nil, false, nil
}

func (t *Table) Indexes(ctx context.Context) ([]*Index, error) {
	if !t.Capabilities().Has(CapIndexes) {
		return nil, nil
	}
	c, err := t.schema.caches()
	if err != nil {
		return nil, err
	}
	return childrenOf(ctx, t, c, c.indexes)
}

// PrimaryKey returns the primary key index, if the table has one.
func (t *Table) PrimaryKey(ctx context.Context) (*Index, bool, error) {
	idx, err := t.Indexes(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, i := range idx {
		if i.Type == IndexPrimaryKey {
			return i, true, nil
		}
	}
	return nil, false, nil
}

func (t *Table) ForeignKeys(ctx context.Context) ([]*ForeignKey, error) {
	if !t.Capabilities().Has(CapForeignKeys) {
		return nil, nil
	}
	c, err := t.schema.caches()
	if err != nil {
		return nil, err
	}
	return childrenOf(ctx, t, c, c.foreignKeys)
}

// childrenOf loads the children of every table in one query once the table list is
// Loaded, and only t's children otherwise.
func childrenOf[C metacache.Object](ctx context.Context, t *Table, c *schemaCaches, cc *metacache.CompositeCache[*Schema, *Table, C]) ([]C, error) {
	if c.tables.State() == metacache.Loaded {
		if _, err := cc.GetAllObjects(ctx, t.schema); err != nil {
			return nil, err
		}
		if items, ok := cc.GetCachedObjects(t); ok {
			return items, nil
		}
	}
	return cc.GetObjects(ctx, t.schema, t)
}

type Column struct {
	Name     string
	Ordinal  int
	DataType string
	Nullable bool
	Default  string

	table *Table
}

func (c *Column) ObjectName() string { return c.Name }
func (c *Column) Table() *Table      { return c.table }

func (c *Column) RefreshFrom(src *Column) {
	c.Ordinal = src.Ordinal
	c.DataType = src.DataType
	c.Nullable = src.Nullable
	c.Default = src.Default
}

// IndexType classifies an index independently of the vendor code it came from.
type IndexType uint8

const (
	IndexPlain IndexType = iota
	IndexPrimaryKey
	IndexUniqueConstraint
)

func (t IndexType) String() string {
	switch t {
	case IndexPrimaryKey:
		return "primary key"
	case IndexUniqueConstraint:
		return "unique constraint"
	}
	return "index"
}

type IndexColumn struct {
	Name       string
	Descending bool
}

type Index struct {
	Name    string
	Type    IndexType
	Unique  bool
	Columns []IndexColumn

	table *Table
}

func (i *Index) ObjectName() string { return i.Name }
func (i *Index) Table() *Table      { return i.table }

func (i *Index) RefreshFrom(src *Index) {
	i.Type = src.Type
	i.Unique = src.Unique
	i.Columns = src.Columns
}

type FKColumn struct {
	Column    string
	RefColumn string
}

type ForeignKey struct {
	Name      string
	RefSchema string
	RefTable  string
	Columns   []FKColumn

	table *Table
}

func (f *ForeignKey) ObjectName() string { return f.Name }
func (f *ForeignKey) Table() *Table      { return f.table }

func (f *ForeignKey) RefreshFrom(src *ForeignKey) {
	f.RefSchema = src.RefSchema
	f.RefTable = src.RefTable
	f.Columns = src.Columns
}

// Referenced resolves the target table through the narrow lookup path: neither the
// referenced schema's nor its tables' full lists are loaded.
func (f *ForeignKey) Referenced(ctx context.Context) (*Table, bool, error) {
	s := f.table.schema
	if f.RefSchema != "" && !s.catalog.policy.Equal(f.RefSchema, s.Name) {
		other, ok, err := s.catalog.Schema(ctx, f.RefSchema)
		if err != nil || !ok {
			return nil, false, err
		}
		s = other
	}
	return s.Table(ctx, f.RefTable)
}
