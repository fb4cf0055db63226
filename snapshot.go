package metacache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/metacache/codec"
	gen "github.com/unkn0wn-root/metacache/genstore"
	"github.com/unkn0wn-root/metacache/internal/util"
	"github.com/unkn0wn-root/metacache/internal/wire"
	pr "github.com/unkn0wn-root/metacache/provider"
)

// snapshotter persists Loaded collections (bulk frames) and narrow-lookup results
// (single frames) in a Provider. Every frame carries the collection generation
// observed before the remote query; a frame whose generation is not current is stale.
type snapshotter[O any, T Object] struct {
	ns       string
	provider pr.Provider
	codec    c.Codec[T]
	gens     gen.GenStore
	ttl      time.Duration
	policy   NamePolicy
	log      Logger
	hooks    Hooks
	adopt    func(O, T)
}

func newSnapshotter[O any, T Object](ns string, so *SnapshotOptions[T], prov pr.Provider, gens gen.GenStore, p NamePolicy, log Logger, hooks Hooks, factory Factory[O, T]) *snapshotter[O, T] {
	s := &snapshotter[O, T]{
		ns:       ns,
		provider: coalesce[pr.Provider](so.Provider, prov),
		codec:    so.Codec,
		gens:     coalesce[gen.GenStore](so.Gens, gens),
		ttl:      coalesce[time.Duration](so.TTL, defaultSnapshotTTL),
		policy:   p,
		log:      log,
		hooks:    hooks,
	}
	if s.gens == nil {
		s.gens = gen.NewLocal(gen.LocalOptions{})
	}
	if a, ok := factory.(Adopter[O, T]); ok {
		s.adopt = a.Adopt
	}
	return s
}

func (s *snapshotter[O, T]) collKey() string { return "coll:" + s.ns }

func (s *snapshotter[O, T]) objKey(name string) string {
	return util.NameKey("obj:"+s.ns, s.policy.Key(name))
}

// observe snapshots the collection generation before a remote query.
// ok=false disables the write-back for this attempt.
func (s *snapshotter[O, T]) observe(ctx context.Context) (uint64, bool) {
	g, err := s.gens.Snapshot(ctx, s.collKey())
	if err != nil {
		s.hooks.GenSnapshotError(s.collKey(), err)
		s.log.Warn("snapshot gen error", Fields{"ns": s.ns, "err": err})
		return 0, false
	}
	return g, true
}

func (s *snapshotter[O, T]) reject(ctx context.Context, key, reason string) {
	_ = s.provider.Del(ctx, key)
	s.hooks.SnapshotRejected(key, reason)
	s.log.Debug("snapshot entry rejected", Fields{"key": key, "reason": reason})
}

// load returns the bulk frame of the collection if it was written at generation g.
func (s *snapshotter[O, T]) load(ctx context.Context, owner O, g uint64) ([]T, bool) {
	k := s.collKey()
	raw, hit, err := s.provider.Get(ctx, k)
	if err != nil {
		s.log.Debug("snapshot read failed", Fields{"key": k, "err": err})
		return nil, false
	}
	if !hit {
		return nil, false
	}
	f, err := wire.DecodeBulk(raw)
	if err != nil {
		s.reject(ctx, k, "corrupt")
		return nil, false
	}
	if f.Scope != s.ns {
		s.reject(ctx, k, "scope_mismatch")
		return nil, false
	}
	if f.Gen != g {
		s.reject(ctx, k, "gen_mismatch")
		return nil, false
	}
	out := make([]T, 0, len(f.Items))
	for _, it := range f.Items {
		v, err := s.codec.Decode(it.Payload)
		if err != nil || !s.policy.Equal(v.ObjectName(), it.Key) {
			s.reject(ctx, k, "value_decode")
			return nil, false
		}
		if s.adopt != nil {
			s.adopt(owner, v)
		}
		out = append(out, v)
	}
	return out, true
}

// store writes a Loaded collection iff the generation is still obs (CAS).
func (s *snapshotter[O, T]) store(ctx context.Context, obs uint64, objs []T) {
	k := s.collKey()
	if cur, ok := s.observe(ctx); !ok || cur != obs {
		s.log.Debug("snapshot store skipped (gen moved)", Fields{"key": k, "obs": obs})
		return
	}
	items := make([]wire.Item, 0, len(objs))
	for _, o := range objs {
		payload, err := s.codec.Encode(o)
		if err != nil {
			s.log.Warn("snapshot encode failed", Fields{"key": k, "object": o.ObjectName(), "err": err})
			return
		}
		items = append(items, wire.Item{Key: o.ObjectName(), Payload: payload})
	}
	b, err := wire.EncodeBulk(s.ns, obs, items)
	if err != nil {
		s.log.Warn("snapshot frame rejected", Fields{"key": k, "err": err})
		return
	}
	ok, err := s.provider.Set(ctx, k, b, int64(len(b)), s.ttl)
	if err != nil {
		s.log.Warn("snapshot write failed", Fields{"key": k, "err": err})
		return
	}
	if !ok {
		s.hooks.ProviderSetRejected(k, true)
	}
}

// loadOne returns the single frame written by a narrow lookup of name at generation g.
func (s *snapshotter[O, T]) loadOne(ctx context.Context, owner O, name string, g uint64) (T, bool) {
	var zero T
	k := s.objKey(name)
	raw, hit, err := s.provider.Get(ctx, k)
	if err != nil || !hit {
		return zero, false
	}
	f, err := wire.DecodeSingle(raw)
	if err != nil {
		s.reject(ctx, k, "corrupt")
		return zero, false
	}
	if f.Scope != s.ns || !s.policy.Equal(f.Items[0].Key, name) {
		// hashed keys may collide; the frame names its object
		s.reject(ctx, k, "scope_mismatch")
		return zero, false
	}
	if f.Gen != g {
		s.reject(ctx, k, "gen_mismatch")
		return zero, false
	}
	v, err := s.codec.Decode(f.Items[0].Payload)
	if err != nil {
		s.reject(ctx, k, "value_decode")
		return zero, false
	}
	if s.adopt != nil {
		s.adopt(owner, v)
	}
	return v, true
}

func (s *snapshotter[O, T]) storeOne(ctx context.Context, obs uint64, obj T) {
	k := s.objKey(obj.ObjectName())
	if cur, ok := s.observe(ctx); !ok || cur != obs {
		return
	}
	payload, err := s.codec.Encode(obj)
	if err != nil {
		s.log.Warn("snapshot encode failed", Fields{"key": k, "err": err})
		return
	}
	b, err := wire.EncodeSingle(s.ns, obs, wire.Item{Key: obj.ObjectName(), Payload: payload})
	if err != nil {
		s.log.Warn("snapshot frame rejected", Fields{"key": k, "err": err})
		return
	}
	ok, err := s.provider.Set(ctx, k, b, int64(len(b)), s.ttl)
	if err != nil {
		s.log.Warn("snapshot write failed", Fields{"key": k, "err": err})
		return
	}
	if !ok {
		s.hooks.ProviderSetRejected(k, false)
	}
}

// invalidate bumps the generation (making every frame of this collection stale) and
// deletes the bulk frame. Only a double failure is reported.
func (s *snapshotter[O, T]) invalidate(ctx context.Context) error {
	k := s.collKey()
	newGen, bumpErr := s.gens.Bump(ctx, k)
	if bumpErr != nil {
		s.hooks.GenBumpError(k, bumpErr)
	}
	delErr := s.provider.Del(ctx, k)
	if bumpErr != nil && delErr != nil {
		s.hooks.InvalidateOutage(k, bumpErr, delErr)
		s.log.Error("snapshot invalidate failed", Fields{"key": k, "bump_err": bumpErr, "del_err": delErr})
		return &InvalidateError{Key: k, BumpErr: bumpErr, DelErr: delErr}
	}
	s.log.Debug("snapshot invalidated (bumped gen + deleted bulk)", Fields{"key": k, "newGen": newGen})
	return nil
}
