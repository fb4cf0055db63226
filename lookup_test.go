package metacache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestLookup(t *testing.T, full, narrow *fakeSource, optsOpt func(*Options[string, *item])) *LookupCache[string, *item] {
	t.Helper()
	opts := Options[string, *item]{
		Namespace:  "main/tables",
		Source:     full,
		Factory:    itemFactory,
		ObjectType: "table",
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	var lookup RowSource[string]
	if narrow != nil {
		lookup = narrow
	}
	c, err := NewLookupCache(opts, lookup)
	if err != nil {
		t.Fatalf("NewLookupCache: %v", err)
	}
	return c
}

// TestGetObjectIssuesOnlyNarrowQuery: resolving one name never runs the full
// enumeration and does not mark the collection Loaded.
func TestGetObjectIssuesOnlyNarrowQuery(t *testing.T) {
	ctx := context.Background()
	full := newFakeSource(map[string][]MapRow{"": {row("T1", 1), row("T2", 2)}})
	narrow := newFakeSource(map[string][]MapRow{"T1": {row("T1", 1)}})
	c := newTestLookup(t, full, narrow, nil)

	obj, ok, err := c.GetObject(ctx, "main", "T1")
	if err != nil || !ok || obj.Name != "T1" {
		t.Fatalf("GetObject: %v %v %v", obj, ok, err)
	}
	if full.total() != 0 || narrow.count("T1") != 1 {
		t.Fatalf("full=%d narrow=%d", full.total(), narrow.count("T1"))
	}
	if c.State() != NotLoaded {
		t.Fatalf("narrow lookup must not mark Loaded, got %v", c.State())
	}
	if _, ok := c.GetCachedObject("T1"); ok {
		t.Fatalf("GetCachedObject only answers for Loaded collections")
	}

	again, ok, _ := c.GetObject(ctx, "main", "T1")
	if !ok || again != obj || narrow.count("T1") != 1 {
		t.Fatalf("second lookup should be served from memory")
	}
}

func TestGetObjectMiss(t *testing.T) {
	ctx := context.Background()
	full := newFakeSource(nil)
	narrow := newFakeSource(map[string][]MapRow{})
	c := newTestLookup(t, full, narrow, nil)

	if _, ok, err := c.GetObject(ctx, "main", "NOPE"); ok || err != nil {
		t.Fatalf("want absent, got ok=%v err=%v", ok, err)
	}
	if _, ok, _ := c.GetObject(ctx, "main", ""); ok {
		t.Fatalf("empty names are never found")
	}
	if narrow.count("") != 0 {
		t.Fatalf("empty name must not be queried")
	}
}

func TestGetObjectLoadedUsesMemory(t *testing.T) {
	ctx := context.Background()
	full := newFakeSource(map[string][]MapRow{"": {row("T1", 1)}})
	narrow := newFakeSource(map[string][]MapRow{"T9": {row("T9", 9)}})
	c := newTestLookup(t, full, narrow, nil)

	if _, err := c.GetAllObjects(ctx, "main"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.GetObject(ctx, "main", "T9"); ok {
		t.Fatalf("a Loaded collection is authoritative")
	}
	if narrow.total() != 0 {
		t.Fatalf("no narrow query expected once Loaded")
	}
}

// TestFullLoadSupersedesNarrow: a full population merges with earlier narrow results
// and keeps their identity.
func TestFullLoadSupersedesNarrow(t *testing.T) {
	ctx := context.Background()
	full := newFakeSource(map[string][]MapRow{"": {row("T1", 10), row("T2", 2)}})
	narrow := newFakeSource(map[string][]MapRow{"T1": {row("T1", 1)}})
	c := newTestLookup(t, full, narrow, nil)

	t1, _, _ := c.GetObject(ctx, "main", "T1")
	all, err := c.GetAllObjects(ctx, "main")
	if err != nil || names(all) != "T1,T2" {
		t.Fatalf("GetAllObjects: %q %v", names(all), err)
	}
	if all[0] != t1 || t1.Value != 10 {
		t.Fatalf("narrow object should keep identity and take the full fetch's fields")
	}
}

func TestGetObjectNilLookupFallsBack(t *testing.T) {
	ctx := context.Background()
	full := newFakeSource(map[string][]MapRow{"": {row("T1", 1), row("T2", 2)}})
	c := newTestLookup(t, full, nil, nil)

	obj, ok, err := c.GetObject(ctx, "main", "T2")
	if err != nil || !ok || obj.Value != 2 {
		t.Fatalf("fallback lookup: %v %v %v", obj, ok, err)
	}
	if c.State() != Loaded || full.count("") != 1 {
		t.Fatalf("fallback should load the whole collection")
	}
}

func TestGetObjectSingleFlightPerName(t *testing.T) {
	ctx := context.Background()
	narrow := newFakeSource(map[string][]MapRow{"tbl": {row("TBL", 1)}})
	narrow.gate, narrow.started = make(chan struct{}), make(chan struct{})
	c := newTestLookup(t, newFakeSource(nil), narrow, func(o *Options[string, *item]) {
		o.Policy = &NamePolicy{Mode: Upper}
	})

	var wg sync.WaitGroup
	got := make([]*item, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// first caller's spelling is the key sent to the source
			got[i], _, _ = c.GetObject(ctx, "main", "tbl")
		}(i)
	}
	<-narrow.started
	time.Sleep(20 * time.Millisecond)
	close(narrow.gate)
	wg.Wait()

	for i := range got {
		if got[i] == nil || got[i] != got[0] {
			t.Fatalf("caller %d: %v", i, got[i])
		}
	}
	if narrow.total() != 1 {
		t.Fatalf("want one narrow query, got %d", narrow.total())
	}
	if obj, ok, _ := c.GetObject(ctx, "main", "Tbl"); !ok || obj != got[0] {
		t.Fatalf("policy must apply to lookups")
	}
}

func TestGetObjectErrorIsLoadError(t *testing.T) {
	narrow := newFakeSource(nil)
	narrow.openErr = errors.New("permission denied")
	c := newTestLookup(t, newFakeSource(nil), narrow, nil)

	_, _, err := c.GetObject(context.Background(), "main", "T1")
	var le *LoadError
	if !errors.As(err, &le) || le.Op != "lookup" || le.Parent != "T1" {
		t.Fatalf("want lookup LoadError, got %v", err)
	}
	if le.Error() != `lookup table for main "T1" failed (query): permission denied` {
		t.Fatalf("unexpected message %q", le.Error())
	}
}
