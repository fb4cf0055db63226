package metacache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/metacache/codec"
	gen "github.com/unkn0wn-root/metacache/genstore"
	pr "github.com/unkn0wn-root/metacache/provider"
)

// Object is anything a cache can hold: every cached object is named.
type Object interface {
	ObjectName() string
}

// Row is one record of a remote catalog query with named field access.
// See RowString, RowInt and RowBool for typed access.
type Row interface {
	Value(field string) (any, bool)
}

// Rows is a forward-only, closeable row sequence (the shape of *sql.Rows).
type Rows interface {
	Next() bool
	Row() Row
	Err() error
	Close() error
}

// RowSource opens a query against the remote catalog.
// key is "" for the full enumeration. For composite sources a non-empty key restricts
// the stream to one parent; for lookup sources it is the requested object name.
// Composite sources must emit rows ordered by parent key, then child ordinal.
type RowSource[O any] interface {
	Open(ctx context.Context, owner O, key string) (Rows, error)
}

type RowSourceFunc[O any] func(ctx context.Context, owner O, key string) (Rows, error)

func (f RowSourceFunc[O]) Open(ctx context.Context, owner O, key string) (Rows, error) {
	return f(ctx, owner, key)
}

// Factory converts one row into zero or more objects. Errors are recoverable (the row
// is skipped) unless wrapped with Fatal.
type Factory[O, T any] interface {
	Convert(ctx context.Context, owner O, row Row) ([]T, error)
}

type FactoryFunc[O, T any] func(ctx context.Context, owner O, row Row) ([]T, error)

func (f FactoryFunc[O, T]) Convert(ctx context.Context, owner O, row Row) ([]T, error) {
	return f(ctx, owner, row)
}

// Refresher is implemented by objects that can absorb the state of a freshly fetched
// copy. Refresh keeps the old object's identity and calls old.RefreshFrom(new).
type Refresher[T any] interface {
	RefreshFrom(src T)
}

// Adopter re-attaches an owner to objects decoded from a snapshot. Factories may
// implement it when objects carry unexported back-references.
type Adopter[O, T any] interface {
	Adopt(owner O, obj T)
}

// SnapshotOptions enable the persisted tier for an ObjectCache or LookupCache.
type SnapshotOptions[T any] struct {
	Provider pr.Provider
	Codec    c.Codec[T]
	Gens     gen.GenStore  // nil => registry gens, else genstore.Local
	TTL      time.Duration // 0 => 30m
}

// Options configure an ObjectCache or LookupCache.
// Only Namespace, Source and Factory are required; others have sensible defaults.
type Options[O any, T Object] struct {
	// Required
	Namespace string // e.g. "conn1/schema=PUBLIC/tables"
	Source    RowSource[O]
	Factory   Factory[O, T]

	ObjectType string      // used in errors and logs; default "object"
	Policy     *NamePolicy // nil => registry policy, else Exact
	Logger     Logger      // nil => registry logger, else NopLogger
	Hooks      Hooks       // nil => registry hooks, else NopHooks
	Registry   *Registry   // optional owning scope

	// Refresh copies mutable fields from src onto dst during an identity-preserving
	// merge. nil => Refresher if T implements it, else the fresh object replaces dst.
	Refresh func(dst, src T)

	Snapshot *SnapshotOptions[T] // nil => no persisted tier
}

// State of a collection.
type State uint8

const (
	NotLoaded State = iota
	Loading
	Loaded
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	default:
		return "not_loaded"
	}
}

// EventKind identifies an invalidation notification.
type EventKind uint8

const (
	EventCleared EventKind = iota + 1
	EventSeeded
	EventRefreshed
)

func (k EventKind) String() string {
	switch k {
	case EventCleared:
		return "cleared"
	case EventSeeded:
		return "seeded"
	case EventRefreshed:
		return "refreshed"
	}
	return "unknown"
}

// Event is delivered to subscribers after the state change is visible.
type Event struct {
	Namespace string
	Kind      EventKind
	Parent    string // composite events scoped to one parent
}
