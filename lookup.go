package metacache

import (
	"context"

	"github.com/google/uuid"
)

// LookupCache is an ObjectCache that can also resolve one name with a narrow query,
// without enumerating the whole collection.
type LookupCache[O any, T Object] struct {
	*ObjectCache[O, T]
	lookup RowSource[O]
}

// NewLookupCache builds a LookupCache. lookup is opened with the requested name as
// key; a nil lookup makes GetObject fall back to the full enumeration.
func NewLookupCache[O any, T Object](opts Options[O, T], lookup RowSource[O]) (*LookupCache[O, T], error) {
	oc, err := newObjectCache(opts)
	if err != nil {
		return nil, err
	}
	c := &LookupCache[O, T]{ObjectCache: oc, lookup: lookup}
	if opts.Registry != nil {
		if err := opts.Registry.register(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// GetObject resolves name:
//   - Loaded: from memory
//   - found by an earlier narrow lookup: from memory
//   - otherwise: narrow query (single-flight per name); results are added to the
//     collection without marking it Loaded.
func (c *LookupCache[O, T]) GetObject(ctx context.Context, owner O, name string) (T, bool, error) {
	var zero T
	if obj, ok, st := c.coll.get(name); ok || st == Loaded {
		return obj, ok, nil
	}
	if c.policy.Key(name) == "" {
		return zero, false, nil
	}
	if c.lookup == nil {
		items, err := c.GetAllObjects(ctx, owner)
		if err != nil {
			return zero, false, err
		}
		obj, ok := c.find(items, name)
		return obj, ok, nil
	}
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}

	found, err := c.shared(ctx, "name:"+c.policy.Key(name), func() ([]T, error) {
		return c.lookupOnce(ctx, owner, name)
	})
	if err != nil {
		return zero, false, err
	}
	obj, ok := c.find(found, name)
	return obj, ok, nil
}

func (c *LookupCache[O, T]) lookupOnce(ctx context.Context, owner O, name string) ([]T, error) {
	if obj, ok, st := c.coll.get(name); ok {
		return []T{obj}, nil
	} else if st == Loaded {
		return nil, nil
	}
	epoch := c.coll.current()
	f := Fields{"ns": c.ns, "op": opLookup, "name": name, "attempt": uuid.NewString()}

	var obs uint64
	canStore := false
	if c.snap != nil {
		if g, ok := c.snap.observe(ctx); ok {
			obs, canStore = g, true
			if obj, hit := c.snap.loadOne(ctx, owner, name, g); hit {
				c.log.Debug("lookup served from snapshot", f)
				return c.coll.insert(epoch, []T{obj}, c.refresh), nil
			}
		}
	}

	objs, err := c.collect(ctx, c.lookup, owner, name, opLookup, f)
	if err != nil {
		return objs, err
	}
	out := c.coll.insert(epoch, objs, c.refresh)
	if canStore {
		for _, o := range out {
			if c.policy.Equal(o.ObjectName(), name) {
				c.snap.storeOne(ctx, obs, o)
			}
		}
	}
	c.log.Debug("lookup finished", f.with("objects", len(out)))
	return out, nil
}

func (c *LookupCache[O, T]) find(items []T, name string) (T, bool) {
	for _, o := range items {
		if c.policy.Equal(o.ObjectName(), name) {
			return o, true
		}
	}
	var zero T
	return zero, false
}
