// Package sqlsource adapts database/sql to metacache.RowSource.
//
// Rows are handed to factories as metacache.MapRow keyed by lower-cased column name,
// so catalog queries should alias their columns to the field names the factories read
// (schema_name, table_name, column_name, ...).
package sqlsource

import (
	"context"
	"database/sql"
	"database/sql/driver"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/unkn0wn-root/metacache"
)

// Queryer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Query builds the statement for one RowSource.
// key is "" for the full enumeration, otherwise a parent or object name.
type Query[O any] struct {
	Name  string
	Build func(owner O, key string) (stmt string, args []any)
}

// Source runs one Query against a Queryer.
type Source[O any] struct {
	db    Queryer
	query Query[O]
}

var _ metacache.RowSource[any] = (*Source[any])(nil)

func New[O any](db Queryer, q Query[O]) *Source[O] {
	return &Source[O]{db: db, query: q}
}

func (s *Source[O]) Open(ctx context.Context, owner O, key string) (metacache.Rows, error) {
	stmt, args := s.query.Build(owner, key)
	rs, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, wrap(err, s.query.Name, key)
	}
	cols, err := rs.Columns()
	if err != nil {
		_ = rs.Close()
		return nil, wrap(err, s.query.Name, key)
	}
	for i, c := range cols {
		cols[i] = strings.ToLower(c)
	}
	return &Rows{rs: rs, cols: cols, name: s.query.Name, key: key}, nil
}

// Rows scans *sql.Rows into MapRows.
type Rows struct {
	rs   *sql.Rows
	cols []string
	cur  metacache.MapRow
	err  error

	name, key string
}

func (r *Rows) Next() bool {
	if r.err != nil || !r.rs.Next() {
		return false
	}
	vals := make([]any, len(r.cols))
	ptrs := make([]any, len(r.cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := r.rs.Scan(ptrs...); err != nil {
		r.err = wrap(err, r.name, r.key)
		return false
	}
	row := make(metacache.MapRow, len(r.cols))
	for i, c := range r.cols {
		row[c] = vals[i]
	}
	r.cur = row
	return true
}

func (r *Rows) Row() metacache.Row { return r.cur }

func (r *Rows) Err() error {
	if r.err != nil {
		return r.err
	}
	if err := r.rs.Err(); err != nil {
		return wrap(err, r.name, r.key)
	}
	return nil
}

func (r *Rows) Close() error { return r.rs.Close() }

// wrap adds the query name and marks connection-level failures with
// metacache.ErrConnection. Context errors pass through untouched.
func wrap(err error, name, key string) error {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if isConnErr(err) {
		err = fmt.Errorf("%w: %w", metacache.ErrConnection, err)
	}
	if key == "" {
		return errors.Wrapf(err, "query %s", name)
	}
	return errors.Wrapf(err, "query %s (%s)", name, key)
}

func isConnErr(err error) bool {
	return stderrors.Is(err, driver.ErrBadConn) ||
		stderrors.Is(err, sql.ErrConnDone) ||
		strings.Contains(err.Error(), "database is closed")
}
