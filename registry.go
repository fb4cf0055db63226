package metacache

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	gen "github.com/unkn0wn-root/metacache/genstore"
	pr "github.com/unkn0wn-root/metacache/provider"
)

// RegistryOptions is the environment shared by every cache created in a registry.
type RegistryOptions struct {
	Logger Logger      // default NopLogger
	Hooks  Hooks       // default NopHooks
	Policy *NamePolicy // default Exact

	// Snapshot tier shared by caches whose SnapshotOptions leave Provider/Gens nil.
	// Both are closed by the root registry's Close.
	Provider pr.Provider
	Gens     gen.GenStore
}

type member interface {
	Namespace() string
	ClearCache(ctx context.Context) error
}

// Registry is an explicit container scope: it owns the caches created with
// Options.Registry and the environment they share. Sub scopes prefix namespaces
// ("conn1/" + ns) and are cleared and closed with their parent.
type Registry struct {
	prefix string
	parent *Registry

	log      Logger
	hooks    Hooks
	policy   NamePolicy
	provider pr.Provider
	gens     gen.GenStore

	mu       sync.Mutex
	members  []member
	children []*Registry
	closed   bool
}

var ErrRegistryClosed = errors.New("metacache: registry closed")

func NewRegistry(opts RegistryOptions) *Registry {
	r := &Registry{
		log:      coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:    coalesce[Hooks](opts.Hooks, NopHooks{}),
		provider: opts.Provider,
		gens:     opts.Gens,
	}
	if opts.Policy != nil {
		r.policy = *opts.Policy
	}
	if r.provider != nil && r.gens == nil {
		r.gens = gen.NewLocal(gen.LocalOptions{})
	}
	return r
}

// Sub returns the child scope name, creating it on first use, so an owner rebuilt
// after a clear lands in the scope its predecessor used. Sub of a closed registry
// returns a closed, detached scope: caches created in it fail with ErrRegistryClosed.
func (r *Registry) Sub(name string) *Registry {
	prefix := r.prefix + strings.Trim(name, "/") + "/"
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.children {
		if c.prefix == prefix && !c.isClosed() {
			return c
		}
	}
	child := &Registry{
		prefix:   prefix,
		parent:   r,
		log:      r.log,
		hooks:    r.hooks,
		policy:   r.policy,
		provider: r.provider,
		gens:     r.gens,
		closed:   r.closed,
	}
	if !r.closed {
		r.children = append(r.children, child)
	}
	return child
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Registry) Logger() Logger             { return r.log }
func (r *Registry) Policy() NamePolicy         { return r.policy }
func (r *Registry) Provider() pr.Provider      { return r.provider }
func (r *Registry) qualify(ns string) string   { return r.prefix + ns }
func (r *Registry) snapshotGens() gen.GenStore { return r.gens }

func (r *Registry) register(m member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	// a namespace has one live cache; a rebuilt owner's cache replaces the old one
	for i, old := range r.members {
		if old.Namespace() == m.Namespace() {
			r.members[i] = m
			return nil
		}
	}
	r.members = append(r.members, m)
	return nil
}

// Namespaces lists the namespaces of every cache in this scope and its children.
func (r *Registry) Namespaces() []string {
	members, children := r.snapshot()
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.Namespace())
	}
	for _, c := range children {
		out = append(out, c.Namespaces()...)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) snapshot() ([]member, []*Registry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]member(nil), r.members...), append([]*Registry(nil), r.children...)
}

// ClearAll clears every cache in this scope and its children. All caches are cleared
// even if some snapshot invalidations fail; the failures are joined.
func (r *Registry) ClearAll(ctx context.Context) error {
	members, children := r.snapshot()
	var errs []error
	for _, m := range members {
		if err := m.ClearCache(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range children {
		if err := c.ClearAll(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close clears and detaches every cache in the scope. The root registry also closes
// the shared snapshot provider and generation store.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	members, children := r.members, r.children
	r.members, r.children = nil, nil
	r.mu.Unlock()

	var errs []error
	for _, m := range members {
		if err := m.ClearCache(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range children {
		if err := c.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if r.parent != nil {
		r.parent.detach(r)
	} else {
		// gen store first (best effort)
		if r.gens != nil {
			_ = r.gens.Close(ctx)
		}
		if r.provider != nil {
			if err := r.provider.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	r.log.Debug("registry closed", Fields{"scope": r.prefix, "caches": len(members)})
	return errors.Join(errs...)
}

func (r *Registry) detach(child *Registry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.children {
		if c == child {
			r.children = append(r.children[:i:i], r.children[i+1:]...)
			return
		}
	}
}

// env resolves per-cache settings: explicit option, then registry, then default.
type env struct {
	ns     string
	log    Logger
	hooks  Hooks
	policy NamePolicy
	gens   gen.GenStore
	prov   pr.Provider
}

func resolveEnv(r *Registry, ns string, log Logger, hooks Hooks, policy *NamePolicy) env {
	e := env{ns: ns, log: NopLogger{}, hooks: NopHooks{}}
	if r != nil {
		e.ns = r.qualify(ns)
		e.log, e.hooks, e.policy = r.log, r.hooks, r.policy
		e.gens, e.prov = r.snapshotGens(), r.provider
	}
	if log != nil {
		e.log = log
	}
	if hooks != nil {
		e.hooks = hooks
	}
	if policy != nil {
		e.policy = *policy
	}
	return e
}
