package metacache

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
)

// ErrConnection marks source errors caused by the connection rather than the statement.
// RowSource implementations wrap it with %w; driver.ErrBadConn and sql.ErrConnDone
// are classified the same way.
var ErrConnection = errors.New("metacache: connection failure")

// ErrorKind classifies a failed population.
type ErrorKind uint8

const (
	KindQuery ErrorKind = iota
	KindConnection
	KindFatalRow
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindFatalRow:
		return "row"
	default:
		return "query"
	}
}

// LoadError is returned when a population is aborted. The collection is left NotLoaded
// (or, for a refresh, untouched).
type LoadError struct {
	Op         string // "load", "lookup", "refresh", "load children", ...
	Namespace  string
	ObjectType string // "table", "index", ...
	Owner      string
	Parent     string // set for single-parent composite loads and narrow lookups
	Kind       ErrorKind
	Err        error
}

func (e *LoadError) Error() string {
	target := e.Owner
	if e.Parent != "" {
		target = fmt.Sprintf("%s %q", e.Owner, e.Parent)
	}
	if target == "" {
		target = e.Namespace
	}
	return fmt.Sprintf("%s %s for %s failed (%s): %v", e.Op, e.ObjectType, target, e.Kind, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// RowError reports a row that could not be converted. It is recoverable: the row is
// skipped and the population continues.
type RowError struct {
	Field string
	Err   error
}

func (e *RowError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("row conversion: %v", e.Err)
	}
	return fmt.Sprintf("row conversion: field %q: %v", e.Field, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// RowErrorf builds a *RowError for field.
func RowErrorf(field, format string, args ...any) error {
	return &RowError{Field: field, Err: fmt.Errorf(format, args...)}
}

type fatalError struct{ err error }

func (e fatalError) Error() string { return e.err.Error() }
func (e fatalError) Unwrap() error { return e.err }

// Fatal marks a factory error as fatal: the whole population is aborted instead of
// skipping the row. Fatal(nil) returns nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return fatalError{err: err}
}

// IsFatal reports whether err was marked with Fatal.
func IsFatal(err error) bool {
	var f fatalError
	return errors.As(err, &f)
}

// IsCancelled reports whether err is a context cancellation or deadline, i.e. the
// accompanying result is partial rather than failed.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func classify(err error) ErrorKind {
	switch {
	case IsFatal(err):
		return KindFatalRow
	case errors.Is(err, ErrConnection), errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return KindConnection
	}
	return KindQuery
}

// describe renders an owner for messages.
func describe(owner any) string {
	switch o := owner.(type) {
	case nil:
		return ""
	case Object:
		return o.ObjectName()
	case fmt.Stringer:
		return o.String()
	case string:
		return o
	}
	return fmt.Sprintf("%v", owner)
}

type InvalidateError struct {
	Key     string
	BumpErr error
	DelErr  error
}

func (e *InvalidateError) Error() string {
	switch {
	case e.BumpErr != nil && e.DelErr != nil:
		return fmt.Sprintf("invalidate %q failed: gen bump and delete failed: bump=%v; delete=%v",
			e.Key, e.BumpErr, e.DelErr)
	case e.BumpErr != nil:
		return fmt.Sprintf("invalidate %q: gen bump failed: %v", e.Key, e.BumpErr)
	case e.DelErr != nil:
		return fmt.Sprintf("invalidate %q: delete failed: %v", e.Key, e.DelErr)
	default:
		return fmt.Sprintf("invalidate %q: unknown error", e.Key)
	}
}

func (e *InvalidateError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.BumpErr != nil {
		errs = append(errs, e.BumpErr)
	}
	if e.DelErr != nil {
		errs = append(errs, e.DelErr)
	}
	return errs
}
