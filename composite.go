package metacache

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

const (
	opLoadChildren    = "load children"
	opRefreshChildren = "refresh children"
)

// CompositeFactory builds child objects from a row stream grouped by parent and then
// by child name. FetchObject is called for the first row of each child, FetchRow for
// every row of it (including the first), so one child may span several rows
// (e.g. the columns of a compound index).
type CompositeFactory[O, P, C any] interface {
	FetchObject(ctx context.Context, owner O, parent P, row Row) (C, error)
	FetchRow(ctx context.Context, owner O, parent P, obj C, row Row) error
}

// CompositeOptions configure a CompositeCache.
type CompositeOptions[O any, P, C Object] struct {
	// Required
	Namespace string
	Source    RowSource[O] // rows ordered by parent key, then child ordinal
	Factory   CompositeFactory[O, P, C]
	ParentKey func(Row) (string, error) // parent name of a row
	ObjectKey func(Row) (string, error) // child name of a row

	// ParentFactory constructs a parent missing from the parent cache. nil => rows of
	// unknown parents are dropped.
	ParentFactory func(ctx context.Context, owner O, row Row) (P, error)

	ObjectType string
	Policy     *NamePolicy // child names; parent names follow the parent cache
	Logger     Logger
	Hooks      Hooks
	Registry   *Registry
	Refresh    func(dst, src C)
}

// CompositeCache attaches a child collection to every parent of an ObjectCache from
// one ordered row stream. Populations are a pure fold into per-parent groups followed
// by one atomic attachment: a failed or cancelled population attaches nothing.
type CompositeCache[O any, P, C Object] struct {
	reporter
	parents       *ObjectCache[O, P]
	source        RowSource[O]
	factory       CompositeFactory[O, P, C]
	parentKey     func(Row) (string, error)
	objectKey     func(Row) (string, error)
	parentFactory func(ctx context.Context, owner O, row Row) (P, error)
	policy        NamePolicy
	refresh       refreshFunc[C]

	sem chan struct{}

	mu       sync.RWMutex
	epoch    uint64
	full     bool
	order    []string // parent keys in parent order (full mode)
	flat     []C      // flattened children, nil when stale
	children map[string]*collection[C]

	subs subscribers
}

func NewCompositeCache[O any, P, C Object](parents *ObjectCache[O, P], opts CompositeOptions[O, P, C]) (*CompositeCache[O, P, C], error) {
	switch {
	case parents == nil:
		return nil, errors.New("metacache: parent cache is required")
	case opts.Namespace == "":
		return nil, errors.New("metacache: namespace is required")
	case opts.Source == nil:
		return nil, errors.New("metacache: source is required")
	case opts.Factory == nil:
		return nil, errors.New("metacache: factory is required")
	case opts.ParentKey == nil || opts.ObjectKey == nil:
		return nil, errors.New("metacache: parent and object key extractors are required")
	}

	e := resolveEnv(opts.Registry, opts.Namespace, opts.Logger, opts.Hooks, opts.Policy)
	c := &CompositeCache[O, P, C]{
		reporter: reporter{
			ns:         e.ns,
			objectType: coalesce(opts.ObjectType, defaultObjectType),
			log:        e.log,
			hooks:      e.hooks,
		},
		parents:       parents,
		source:        opts.Source,
		factory:       opts.Factory,
		parentKey:     opts.ParentKey,
		objectKey:     opts.ObjectKey,
		parentFactory: opts.ParentFactory,
		policy:        e.policy,
		refresh:       refresherFor(opts.Refresh),
		sem:           make(chan struct{}, 1),
		children:      make(map[string]*collection[C]),
	}
	if opts.Registry != nil {
		if err := opts.Registry.register(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *CompositeCache[O, P, C]) Namespace() string { return c.ns }

func (c *CompositeCache[O, P, C]) Subscribe(fn func(Event)) func() { return c.subs.subscribe(fn) }

// Loaded reports whether every parent has its children attached.
func (c *CompositeCache[O, P, C]) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.full
}

func (c *CompositeCache[O, P, C]) parentName(p P) string {
	return c.parents.policy.Key(p.ObjectName())
}

func (c *CompositeCache[O, P, C]) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *CompositeCache[O, P, C]) release() { <-c.sem }

// GetAllObjects loads the children of every parent (loading the parents first) and
// returns them flattened in parent order.
func (c *CompositeCache[O, P, C]) GetAllObjects(ctx context.Context, owner O) ([]C, error) {
	if items, ok := c.flattened(); ok {
		return items, nil
	}
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()
	if items, ok := c.flattened(); ok {
		return items, nil
	}
	return c.populateAll(ctx, owner, opLoadChildren)
}

// GetObjects returns the children of one parent, loading only that parent's rows if
// they are not attached yet.
func (c *CompositeCache[O, P, C]) GetObjects(ctx context.Context, owner O, parent P) ([]C, error) {
	if items, ok := c.GetCachedObjects(parent); ok {
		return items, nil
	}
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()
	if items, ok := c.GetCachedObjects(parent); ok {
		return items, nil
	}
	return c.populateOne(ctx, owner, parent, opLoadChildren)
}

// GetObject resolves one child of parent by name.
func (c *CompositeCache[O, P, C]) GetObject(ctx context.Context, owner O, parent P, name string) (C, bool, error) {
	var zero C
	items, err := c.GetObjects(ctx, owner, parent)
	if err != nil {
		return zero, false, err
	}
	if coll := c.childColl(c.parentName(parent)); coll != nil {
		if obj, ok, st := coll.get(name); st == Loaded {
			return obj, ok, nil
		}
	}
	// population was superseded by a clear; answer from the returned list
	for _, o := range items {
		if c.policy.Equal(o.ObjectName(), name) {
			return o, true, nil
		}
	}
	return zero, false, nil
}

// GetCachedObjects never queries.
func (c *CompositeCache[O, P, C]) GetCachedObjects(parent P) ([]C, bool) {
	coll := c.childColl(c.parentName(parent))
	if coll == nil {
		return nil, false
	}
	return coll.loaded()
}

func (c *CompositeCache[O, P, C]) childColl(key string) *collection[C] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.children[key]
}

// SetObjects seeds the children of one parent.
func (c *CompositeCache[O, P, C]) SetObjects(parent P, items []C) {
	k := c.parentName(parent)
	coll := newCollection[C](c.policy)
	_, dups := coll.set(items)
	c.logDups(Fields{"ns": c.ns, "op": "seed", "parent": parent.ObjectName()}, dups)

	c.mu.Lock()
	c.children[k] = coll
	c.flat = nil
	c.epoch++
	c.mu.Unlock()
	c.subs.notify(Event{Namespace: c.ns, Kind: EventSeeded, Parent: parent.ObjectName()})
}

// ClearCache detaches every child collection. Children handed out earlier are not
// touched. It never fails; the error is for symmetry with ObjectCache.
func (c *CompositeCache[O, P, C]) ClearCache(context.Context) error {
	c.mu.Lock()
	c.children = make(map[string]*collection[C])
	c.full, c.order, c.flat = false, nil, nil
	c.epoch++
	c.mu.Unlock()
	c.log.Debug("cache cleared", Fields{"ns": c.ns})
	c.subs.notify(Event{Namespace: c.ns, Kind: EventCleared})
	return nil
}

// ClearParent detaches the children of one parent; the composite is no longer fully
// Loaded.
func (c *CompositeCache[O, P, C]) ClearParent(parent P) {
	c.mu.Lock()
	delete(c.children, c.parentName(parent))
	c.full, c.order, c.flat = false, nil, nil
	c.epoch++
	c.mu.Unlock()
	c.subs.notify(Event{Namespace: c.ns, Kind: EventCleared, Parent: parent.ObjectName()})
}

// Retain detaches the children of every parent not in parents. A fully Loaded
// composite stays Loaded only if no parent was dropped.
func (c *CompositeCache[O, P, C]) Retain(parents []P) {
	keep := make(map[string]struct{}, len(parents))
	for _, p := range parents {
		keep[c.parentName(p)] = struct{}{}
	}
	c.mu.Lock()
	dropped := 0
	for k := range c.children {
		if _, ok := keep[k]; !ok {
			delete(c.children, k)
			dropped++
		}
	}
	if dropped > 0 {
		c.full, c.order, c.flat = false, nil, nil
		c.epoch++
	}
	c.mu.Unlock()
	if dropped > 0 {
		c.subs.notify(Event{Namespace: c.ns, Kind: EventCleared})
	}
}

// Refresh refetches every parent's children and merges them per parent: surviving
// children keep their identity, parents no longer present lose their collection.
// On failure or cancellation nothing changes.
func (c *CompositeCache[O, P, C]) Refresh(ctx context.Context, owner O) ([]C, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()
	return c.populateAll(ctx, owner, opRefreshChildren)
}

// RefreshParent refetches and merges the children of one parent.
func (c *CompositeCache[O, P, C]) RefreshParent(ctx context.Context, owner O, parent P) ([]C, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()
	return c.populateOne(ctx, owner, parent, opRefreshChildren)
}

func (c *CompositeCache[O, P, C]) flattened() ([]C, bool) {
	c.mu.RLock()
	full, flat := c.full, c.flat
	c.mu.RUnlock()
	if !full {
		return nil, false
	}
	if flat != nil {
		return flat, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.full {
		return nil, false
	}
	if c.flat == nil {
		c.flat = c.flattenLocked()
	}
	return c.flat, true
}

func (c *CompositeCache[O, P, C]) flattenLocked() []C {
	out := make([]C, 0)
	for _, k := range c.order {
		if coll := c.children[k]; coll != nil {
			out = append(out, coll.all()...)
		}
	}
	return out
}

// group is the finalized child list of one parent. Groups are built by fold and
// never modified after it returns.
type group[P, C any] struct {
	parent   P
	items    []C
	byName   map[string]int
	dangling bool
}

type foldResult[P, C any] struct {
	groups  map[string]*group[P, C]
	order   []string // parent keys in stream order
	created []P      // parents built by ParentFactory
}

func (r foldResult[P, C]) flatten() []C {
	var out []C
	for _, k := range r.order {
		if g := r.groups[k]; !g.dangling {
			out = append(out, g.items...)
		}
	}
	return out
}

// fold groups one ordered stream by parent key, then by child name. Rows of a parent
// key seen again later (out of order) join the same group.
// single, when set, restricts the stream to one parent.
func (c *CompositeCache[O, P, C]) fold(ctx context.Context, owner O, single *P, op string, f Fields) (foldResult[P, C], error) {
	res := foldResult[P, C]{groups: make(map[string]*group[P, C])}

	key := ""
	if single != nil {
		key = (*single).ObjectName()
	}
	if err := ctx.Err(); err != nil {
		c.cancelled(op, 0, f)
		return res, err
	}
	rows, err := c.source.Open(ctx, owner, key)
	if err != nil {
		if ctx.Err() != nil {
			c.cancelled(op, 0, f)
			return res, ctx.Err()
		}
		return res, c.fail(op, describe(owner), key, err, f)
	}
	defer rows.Close()

	var (
		cur    *group[P, C]
		curKey string
		n      int
	)
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			c.cancelled(op, n, f)
			return res, err
		}
		n++
		row := rows.Row()

		pname, err := c.parentKey(row)
		if err != nil {
			c.skip(op, n, err, f)
			continue
		}
		pk := c.parents.policy.Key(pname)
		if cur == nil || pk != curKey {
			curKey = pk
			cur = res.groups[pk]
			if cur == nil {
				cur, err = c.openGroup(ctx, owner, single, pname, row, &res)
				if err != nil {
					return res, c.fail(op, describe(owner), key, err, f)
				}
				res.groups[pk] = cur
				res.order = append(res.order, pk)
				if cur.dangling {
					c.skip(op, n, RowErrorf("parent", "unknown parent %q", pname), f)
				}
			}
		}
		if cur.dangling {
			continue
		}

		name, err := c.objectKey(row)
		if err != nil {
			c.skip(op, n, err, f)
			continue
		}
		nk := c.policy.Key(name)
		if nk == "" {
			c.skip(op, n, RowErrorf("name", "empty %s name", c.objectType), f)
			continue
		}
		i, ok := cur.byName[nk]
		if !ok {
			obj, err := c.factory.FetchObject(ctx, owner, cur.parent, row)
			if err != nil {
				if IsFatal(err) {
					return res, c.fail(op, describe(owner), key, err, f)
				}
				c.skip(op, n, err, f)
				continue
			}
			i = len(cur.items)
			cur.byName[nk] = i
			cur.items = append(cur.items, obj)
		}
		if err := c.factory.FetchRow(ctx, owner, cur.parent, cur.items[i], row); err != nil {
			if IsFatal(err) {
				return res, c.fail(op, describe(owner), key, err, f)
			}
			c.skip(op, n, err, f)
		}
	}
	if err := rows.Err(); err != nil {
		if ctx.Err() != nil {
			c.cancelled(op, n, f)
			return res, ctx.Err()
		}
		return res, c.fail(op, describe(owner), key, err, f)
	}
	return res, nil
}

// openGroup resolves the parent of a new group. Only a Fatal ParentFactory error is
// returned; unresolvable parents yield a dangling group whose rows are dropped.
func (c *CompositeCache[O, P, C]) openGroup(ctx context.Context, owner O, single *P, pname string, row Row, res *foldResult[P, C]) (*group[P, C], error) {
	g := &group[P, C]{byName: make(map[string]int)}
	if single != nil {
		if !c.parents.policy.Equal(pname, (*single).ObjectName()) {
			g.dangling = true
			return g, nil
		}
		g.parent = *single
		return g, nil
	}
	if p, ok, _ := c.parents.coll.get(pname); ok {
		g.parent = p
		return g, nil
	}
	if c.parentFactory == nil {
		g.dangling = true
		return g, nil
	}
	p, err := c.parentFactory(ctx, owner, row)
	if err != nil {
		if IsFatal(err) {
			return nil, err
		}
		g.dangling = true
		return g, nil
	}
	g.parent = p
	res.created = append(res.created, p)
	return g, nil
}

func (c *CompositeCache[O, P, C]) begin(op string, parent string) (uint64, Fields) {
	c.mu.RLock()
	epoch := c.epoch
	c.mu.RUnlock()
	f := Fields{"ns": c.ns, "op": op, "attempt": uuid.NewString()}
	if parent != "" {
		f["parent"] = parent
	}
	c.log.Debug("population started", f)
	return epoch, f
}

// populateAll runs the all-parents mode. Caller holds the semaphore.
func (c *CompositeCache[O, P, C]) populateAll(ctx context.Context, owner O, op string) ([]C, error) {
	parents, err := c.parents.GetAllObjects(ctx, owner)
	if err != nil {
		return nil, err
	}
	epoch, f := c.begin(op, "")
	res, err := c.fold(ctx, owner, nil, op, f)
	if err != nil {
		return partial(res, err)
	}
	if len(res.created) > 0 {
		res.created = c.parents.coll.ensure(res.created)
		parents = append(append([]P(nil), parents...), res.created...)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.log.Debug("population superseded by clear; not attached", f)
		return res.flatten(), nil
	}
	next := make(map[string]*collection[C], len(parents))
	order := make([]string, 0, len(parents))
	for _, p := range parents {
		k := c.parentName(p)
		if _, dup := next[k]; dup {
			continue
		}
		coll := c.children[k]
		if coll == nil {
			coll = newCollection[C](c.policy)
		}
		var items []C
		if g := res.groups[k]; g != nil && !g.dangling {
			items = g.items
		}
		_, dups := coll.publish(items, c.refresh)
		c.logDups(f, dups)
		next[k] = coll
		order = append(order, k)
	}
	c.children, c.order, c.full = next, order, true
	c.flat = c.flattenLocked()
	flat := c.flat
	c.mu.Unlock()

	c.log.Debug("population finished", f.with("parents", len(order), "objects", len(flat)))
	if op == opRefreshChildren {
		c.subs.notify(Event{Namespace: c.ns, Kind: EventRefreshed})
	}
	return flat, nil
}

// populateOne runs the single-parent mode. Caller holds the semaphore.
func (c *CompositeCache[O, P, C]) populateOne(ctx context.Context, owner O, parent P, op string) ([]C, error) {
	epoch, f := c.begin(op, parent.ObjectName())
	res, err := c.fold(ctx, owner, &parent, op, f)
	if err != nil {
		return partial(res, err)
	}
	k := c.parentName(parent)
	var items []C
	if g := res.groups[k]; g != nil && !g.dangling {
		items = g.items
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.log.Debug("population superseded by clear; not attached", f)
		return items, nil
	}
	coll := c.children[k]
	if coll == nil {
		coll = newCollection[C](c.policy)
		c.children[k] = coll
	}
	merged, dups := coll.publish(items, c.refresh)
	c.flat = nil
	c.mu.Unlock()

	c.logDups(f, dups)
	c.log.Debug("population finished", f.with("objects", len(merged)))
	if op == opRefreshChildren {
		c.subs.notify(Event{Namespace: c.ns, Kind: EventRefreshed, Parent: parent.ObjectName()})
	}
	return merged, nil
}

// partial returns the flattened groups alongside a cancellation, nothing otherwise.
func partial[P, C any](res foldResult[P, C], err error) ([]C, error) {
	if IsCancelled(err) {
		return res.flatten(), err
	}
	return nil, err
}
