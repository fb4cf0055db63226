package metacache

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	opLoad    = "load"
	opLookup  = "lookup"
	opRefresh = "refresh"

	flightAll = "all"
)

// ObjectCache is a lazily populated, named, ordered collection of T owned by O.
// It is safe for concurrent use; at most one population runs at a time.
type ObjectCache[O any, T Object] struct {
	reporter
	source  RowSource[O]
	factory Factory[O, T]
	policy  NamePolicy
	refresh refreshFunc[T]

	coll   *collection[T]
	flight singleflight.Group
	snap   *snapshotter[O, T]
	subs   subscribers
}

func NewObjectCache[O any, T Object](opts Options[O, T]) (*ObjectCache[O, T], error) {
	c, err := newObjectCache(opts)
	if err != nil {
		return nil, err
	}
	if opts.Registry != nil {
		if err := opts.Registry.register(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func newObjectCache[O any, T Object](opts Options[O, T]) (*ObjectCache[O, T], error) {
	if opts.Namespace == "" {
		return nil, errors.New("metacache: namespace is required")
	}
	if opts.Source == nil {
		return nil, errors.New("metacache: source is required")
	}
	if opts.Factory == nil {
		return nil, errors.New("metacache: factory is required")
	}

	e := resolveEnv(opts.Registry, opts.Namespace, opts.Logger, opts.Hooks, opts.Policy)
	c := &ObjectCache[O, T]{
		reporter: reporter{
			ns:         e.ns,
			objectType: coalesce(opts.ObjectType, defaultObjectType),
			log:        e.log,
			hooks:      e.hooks,
		},
		source:  opts.Source,
		factory: opts.Factory,
		policy:  e.policy,
		refresh: refresherFor(opts.Refresh),
		coll:    newCollection[T](e.policy),
	}

	if so := opts.Snapshot; so != nil {
		if so.Codec == nil {
			return nil, errors.New("metacache: snapshot codec is required")
		}
		if so.Provider == nil && e.prov == nil {
			return nil, errors.New("metacache: snapshot provider is required")
		}
		c.snap = newSnapshotter(c.ns, so, e.prov, e.gens, e.policy, e.log, e.hooks, opts.Factory)
	}
	return c, nil
}

func (c *ObjectCache[O, T]) Namespace() string { return c.ns }
func (c *ObjectCache[O, T]) State() State      { return c.coll.State() }

// Subscribe registers fn for invalidation events and returns its unsubscribe func.
func (c *ObjectCache[O, T]) Subscribe(fn func(Event)) func() { return c.subs.subscribe(fn) }

// GetAllObjects returns the Loaded collection, populating it on first access.
//
// On cancellation the objects converted so far are returned together with ctx.Err()
// and the collection stays NotLoaded. Source failures and Fatal row errors return a
// *LoadError.
func (c *ObjectCache[O, T]) GetAllObjects(ctx context.Context, owner O) ([]T, error) {
	if items, ok := c.coll.loaded(); ok {
		return items, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.shared(ctx, flightAll, func() ([]T, error) {
		return c.populate(ctx, owner, opLoad)
	})
}

// GetCachedObject never queries; it resolves name only in a Loaded collection.
func (c *ObjectCache[O, T]) GetCachedObject(name string) (T, bool) {
	obj, ok, st := c.coll.get(name)
	if st != Loaded {
		var zero T
		return zero, false
	}
	return obj, ok
}

// CachedObjects returns the Loaded collection without querying.
func (c *ObjectCache[O, T]) CachedObjects() ([]T, bool) { return c.coll.loaded() }

// ClearCache resets the collection to NotLoaded and invalidates its snapshot.
// Objects handed out earlier are not touched. The in-memory reset always happens;
// the error only reports a failed snapshot invalidation.
func (c *ObjectCache[O, T]) ClearCache(ctx context.Context) error {
	c.coll.clear()
	var err error
	if c.snap != nil {
		err = c.snap.invalidate(ctx)
	}
	c.log.Debug("cache cleared", Fields{"ns": c.ns})
	c.subs.notify(Event{Namespace: c.ns, Kind: EventCleared})
	return err
}

// SetCache seeds the collection as Loaded without querying.
// Duplicate names keep the first occurrence.
func (c *ObjectCache[O, T]) SetCache(items []T) {
	merged, dups := c.coll.set(items)
	c.logDups(Fields{"ns": c.ns, "op": "seed"}, dups)
	c.log.Debug("cache seeded", Fields{"ns": c.ns, "objects": len(merged)})
	c.subs.notify(Event{Namespace: c.ns, Kind: EventSeeded})
}

// Refresh refetches the collection and merges it into the Loaded list by name:
// surviving objects keep their identity. A failed or cancelled refresh leaves the
// previous list in place. Refreshing a NotLoaded collection loads it.
func (c *ObjectCache[O, T]) Refresh(ctx context.Context, owner O) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.shared(ctx, flightAll, func() ([]T, error) {
		return c.populate(ctx, owner, opRefresh)
	})
}

// shared runs fn once per key across concurrent callers. A waiter whose leader was
// cancelled retries with its own live context instead of inheriting the cancellation.
func (c *ObjectCache[O, T]) shared(ctx context.Context, key string, fn func() ([]T, error)) ([]T, error) {
	for {
		var led atomic.Bool
		ch := c.flight.DoChan(key, func() (any, error) {
			led.Store(true)
			return fn()
		})

		var r singleflight.Result
		select {
		case r = <-ch:
		case <-ctx.Done():
			if !led.Load() {
				return nil, ctx.Err()
			}
			// our own population: wait for the partial result
			r = <-ch
		}

		items, _ := r.Val.([]T)
		if r.Err != nil && IsCancelled(r.Err) && !led.Load() && ctx.Err() == nil {
			c.log.Debug("shared population was cancelled; retrying", Fields{"ns": c.ns, "key": key})
			continue
		}
		return items, r.Err
	}
}

// populate runs one full enumeration (load or refresh) and commits it.
func (c *ObjectCache[O, T]) populate(ctx context.Context, owner O, op string) ([]T, error) {
	if op == opLoad {
		if items, ok := c.coll.loaded(); ok {
			return items, nil
		}
	}
	epoch := c.coll.begin()
	f := Fields{"ns": c.ns, "op": op, "attempt": uuid.NewString()}

	var obs uint64
	canStore := false
	if c.snap != nil {
		if op == opRefresh {
			_ = c.snap.invalidate(ctx)
		}
		if g, ok := c.snap.observe(ctx); ok {
			obs, canStore = g, true
			if op == opLoad {
				if objs, hit := c.snap.load(ctx, owner, g); hit {
					items, dups, _ := c.coll.commit(epoch, objs, c.refresh)
					c.logDups(f, dups)
					c.log.Debug("population served from snapshot", f.with("objects", len(items)))
					return items, nil
				}
			}
		}
	}

	c.log.Debug("population started", f)
	fresh, err := c.collect(ctx, c.source, owner, "", op, f)
	if err != nil {
		c.coll.abort(epoch)
		return fresh, err
	}

	items, dups, committed := c.coll.commit(epoch, fresh, c.refresh)
	c.logDups(f, dups)
	if !committed {
		c.log.Debug("population superseded by clear; not cached", f)
		return items, nil
	}
	if canStore {
		c.snap.store(ctx, obs, items)
	}
	c.log.Debug("population finished", f.with("objects", len(items)))
	if op == opRefresh {
		c.subs.notify(Event{Namespace: c.ns, Kind: EventRefreshed})
	}
	return items, nil
}

// collect drains one query through the factory. ctx is polled before the query and
// once per row; on cancellation the objects converted so far are returned with ctx.Err().
func (c *ObjectCache[O, T]) collect(ctx context.Context, src RowSource[O], owner O, key, op string, f Fields) ([]T, error) {
	if err := ctx.Err(); err != nil {
		c.cancelled(op, 0, f)
		return nil, err
	}
	rows, err := src.Open(ctx, owner, key)
	if err != nil {
		if ctx.Err() != nil {
			c.cancelled(op, 0, f)
			return nil, ctx.Err()
		}
		return nil, c.fail(op, describe(owner), key, err, f)
	}
	defer rows.Close()

	var out []T
	n := 0
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			c.cancelled(op, n, f)
			return out, err
		}
		n++
		objs, err := c.factory.Convert(ctx, owner, rows.Row())
		if err != nil {
			if IsFatal(err) {
				return nil, c.fail(op, describe(owner), key, err, f)
			}
			c.skip(op, n, err, f)
			continue
		}
		for _, o := range objs {
			if c.policy.Key(o.ObjectName()) == "" {
				c.skip(op, n, RowErrorf("name", "empty %s name", c.objectType), f)
				continue
			}
			out = append(out, o)
		}
	}
	if err := rows.Err(); err != nil {
		if ctx.Err() != nil {
			c.cancelled(op, n, f)
			return out, ctx.Err()
		}
		return nil, c.fail(op, describe(owner), key, err, f)
	}
	return out, nil
}
