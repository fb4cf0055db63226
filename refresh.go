package metacache

// refreshFunc copies mutable state from src onto dst.
type refreshFunc[T any] func(dst, src T)

// refresherFor picks the field-copy hook: explicit func, then Refresher, else nil
// (surviving objects keep their identity and their old fields).
func refresherFor[T any](explicit func(dst, src T)) refreshFunc[T] {
	if explicit != nil {
		return explicit
	}
	var zero T
	if _, ok := any(zero).(Refresher[T]); ok {
		return func(dst, src T) { any(dst).(Refresher[T]).RefreshFrom(src) }
	}
	return nil
}

// mergeByName merges a fresh fetch into the previous list.
//
//   - name in both: old identity kept, refresh(old, fresh) applied
//   - name only in old: dropped
//   - name only in fresh: inserted
//
// Order follows fresh. Duplicate names in fresh keep the first occurrence and are
// reported in dups. old is never mutated; the returned slice is new.
func mergeByName[T Object](p NamePolicy, old, fresh []T, refresh refreshFunc[T]) (merged []T, index map[string]int, dups []string) {
	prev := make(map[string]T, len(old))
	for _, o := range old {
		prev[p.Key(o.ObjectName())] = o
	}
	merged = make([]T, 0, len(fresh))
	index = make(map[string]int, len(fresh))
	for _, f := range fresh {
		k := p.Key(f.ObjectName())
		if _, seen := index[k]; seen {
			dups = append(dups, f.ObjectName())
			continue
		}
		obj := f
		if o, ok := prev[k]; ok {
			if refresh != nil {
				refresh(o, f)
			}
			obj = o
		}
		index[k] = len(merged)
		merged = append(merged, obj)
	}
	return merged, index, dups
}
