package metacache

import "sync"

// collection is the in-memory state of one cached collection.
// items is never mutated in place: every write publishes a new slice, so slices
// handed to callers stay valid after clears and refreshes.
type collection[T Object] struct {
	mu     sync.RWMutex
	policy NamePolicy
	state  State
	epoch  uint64 // bumped by clear/seed; populations commit only on the epoch they started on
	items  []T
	index  map[string]int
}

func newCollection[T Object](p NamePolicy) *collection[T] {
	return &collection[T]{policy: p}
}

func (c *collection[T]) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// loaded returns the items when the collection is Loaded.
func (c *collection[T]) loaded() ([]T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != Loaded {
		return nil, false
	}
	return c.items, true
}

// all returns the current items regardless of state (narrow-lookup inserts included).
func (c *collection[T]) all() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.items
}

// get resolves name regardless of state.
func (c *collection[T]) get(name string) (T, bool, State) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var zero T
	i, ok := c.index[c.policy.Key(name)]
	if !ok {
		return zero, false, c.state
	}
	return c.items[i], true, c.state
}

// begin marks a population in flight and returns the epoch it must commit on.
func (c *collection[T]) begin() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == NotLoaded {
		c.state = Loading
	}
	return c.epoch
}

// abort rolls a failed or cancelled population back to NotLoaded.
func (c *collection[T]) abort(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch == epoch && c.state == Loading {
		c.state = NotLoaded
	}
}

// commit publishes a complete fetch as Loaded. Objects already present (narrow
// lookups, or the previous list on refresh) keep their identity.
// ok is false when the collection was cleared or seeded after epoch; the fresh
// objects are then returned as-is and nothing is stored.
func (c *collection[T]) commit(epoch uint64, fresh []T, refresh refreshFunc[T]) (items []T, dups []string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		merged, _, dups := mergeByName(c.policy, nil, fresh, nil)
		return merged, dups, false
	}
	merged, index, dups := mergeByName(c.policy, c.items, fresh, refresh)
	c.items, c.index, c.state = merged, index, Loaded
	return merged, dups, true
}

// insert adds objects found by a narrow lookup without changing the state.
// If the collection became Loaded meanwhile, the Loaded objects win and are returned
// in place of objs (absent names are dropped).
func (c *collection[T]) insert(epoch uint64, objs []T, refresh refreshFunc[T]) []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, 0, len(objs))
	if c.state == Loaded {
		for _, o := range objs {
			if i, ok := c.index[c.policy.Key(o.ObjectName())]; ok {
				out = append(out, c.items[i])
			}
		}
		return out
	}
	if c.epoch != epoch {
		return append(out, objs...)
	}
	items := c.items
	index := c.index
	grown := false
	for _, o := range objs {
		k := c.policy.Key(o.ObjectName())
		if i, ok := index[k]; ok {
			if refresh != nil {
				refresh(items[i], o)
			}
			out = append(out, items[i])
			continue
		}
		if !grown {
			items = append(make([]T, 0, len(c.items)+len(objs)), c.items...)
			index = make(map[string]int, len(c.index)+len(objs))
			for k, v := range c.index {
				index[k] = v
			}
			grown = true
		}
		index[k] = len(items)
		items = append(items, o)
		out = append(out, o)
	}
	c.items, c.index = items, index
	return out
}

// set seeds the collection as Loaded.
func (c *collection[T]) set(objs []T) (items []T, dups []string) {
	merged, index, dups := mergeByName(c.policy, nil, objs, nil)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items, c.index, c.state = merged, index, Loaded
	c.epoch++
	return merged, dups
}

// clear resets to NotLoaded. Objects handed out earlier are left untouched.
func (c *collection[T]) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items, c.index, c.state = nil, nil, NotLoaded
	c.epoch++
}

// current returns the epoch without touching the state (narrow lookups).
func (c *collection[T]) current() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

// publish merges fresh into the current items and marks the collection Loaded,
// regardless of epoch. Composite attachment serializes through its own epoch.
func (c *collection[T]) publish(fresh []T, refresh refreshFunc[T]) (items []T, dups []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	merged, index, dups := mergeByName(c.policy, c.items, fresh, refresh)
	c.items, c.index, c.state = merged, index, Loaded
	return merged, dups
}

// ensure adds objs that are not present yet, whatever the state, and returns the
// canonical instance for each.
func (c *collection[T]) ensure(objs []T) []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, 0, len(objs))
	items := append(make([]T, 0, len(c.items)+len(objs)), c.items...)
	index := make(map[string]int, len(c.index)+len(objs))
	for k, v := range c.index {
		index[k] = v
	}
	for _, o := range objs {
		k := c.policy.Key(o.ObjectName())
		if i, ok := index[k]; ok {
			out = append(out, items[i])
			continue
		}
		index[k] = len(items)
		items = append(items, o)
		out = append(out, o)
	}
	c.items, c.index = items, index
	return out
}
