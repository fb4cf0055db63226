package metacache

import (
	"context"
	"errors"
	"testing"
)

// TestRefreshPreservesIdentity: surviving names keep their object, removed names
// disappear, new names get new objects, order follows the new fetch.
func TestRefreshPreservesIdentity(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource(map[string][]MapRow{"": {row("A", 1), row("B", 2)}})
	c := newTestCache(t, src, nil)

	before, err := c.GetAllObjects(ctx, "main")
	if err != nil {
		t.Fatal(err)
	}
	oldB := before[1]

	src.set("", row("C", 3), row("B", 20))
	after, err := c.Refresh(ctx, "main")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if names(after) != "C,B" {
		t.Fatalf("order should follow the new fetch, got %q", names(after))
	}
	if after[1] != oldB || oldB.Value != 20 {
		t.Fatalf("B must keep identity and receive new fields: same=%v value=%d", after[1] == oldB, oldB.Value)
	}
	if _, ok := c.GetCachedObject("A"); ok {
		t.Fatalf("A should be gone")
	}
	if names(before) != "A,B" {
		t.Fatalf("previously returned slice must not change, got %q", names(before))
	}
}

func TestRefreshFailureKeepsPreviousList(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource(map[string][]MapRow{"": {row("A", 1)}})
	c := newTestCache(t, src, nil)
	before, _ := c.GetAllObjects(ctx, "main")

	src.openErr = errors.New("statement timeout")
	if _, err := c.Refresh(ctx, "main"); err == nil {
		t.Fatalf("expected refresh error")
	}
	if c.State() != Loaded {
		t.Fatalf("failed refresh must leave Loaded, got %v", c.State())
	}
	got, err := c.GetAllObjects(ctx, "main")
	if err != nil || len(got) != 1 || got[0] != before[0] {
		t.Fatalf("previous list lost: %v %v", got, err)
	}
}

func TestRefreshCancelledKeepsPreviousList(t *testing.T) {
	src := newFakeSource(map[string][]MapRow{"": {row("A", 1), row("B", 2)}})
	c := newTestCache(t, src, nil)
	if _, err := c.GetAllObjects(context.Background(), "main"); err != nil {
		t.Fatal(err)
	}

	src.set("", row("A", 10), row("B", 20), row("C", 30))
	ctx, cancel := context.WithCancel(context.Background())
	src.onRow = func(i int) {
		if i == 1 {
			cancel()
		}
	}
	partial, err := c.Refresh(ctx, "main")
	if !errors.Is(err, context.Canceled) || len(partial) != 1 {
		t.Fatalf("want 1 partial row and Canceled, got %d %v", len(partial), err)
	}
	a, _ := c.GetCachedObject("A")
	if a.Value != 1 {
		t.Fatalf("cancelled refresh must not touch cached objects, A=%d", a.Value)
	}
	if _, ok := c.GetCachedObject("C"); ok {
		t.Fatalf("C must not appear after a cancelled refresh")
	}
}

func TestRefreshNotLoadedLoads(t *testing.T) {
	src := newFakeSource(map[string][]MapRow{"": {row("A", 1)}})
	c := newTestCache(t, src, nil)
	got, err := c.Refresh(context.Background(), "main")
	if err != nil || names(got) != "A" || c.State() != Loaded {
		t.Fatalf("refresh of an empty cache should load: %q %v %v", names(got), err, c.State())
	}
}

type plain struct {
	Name string
	N    int
}

func (p *plain) ObjectName() string { return p.Name }

func TestMergeByName(t *testing.T) {
	a, b := &plain{"a", 1}, &plain{"b", 2}
	fresh := []*plain{{"B", 20}, {"c", 3}, {"b", 99}}
	pol := NamePolicy{Mode: Lower}

	t.Run("explicit refresh keeps identity", func(t *testing.T) {
		merged, index, dups := mergeByName(pol, []*plain{a, b}, fresh,
			refresherFor(func(dst, src *plain) { dst.N = src.N }))
		if len(merged) != 2 || merged[0] != b || b.N != 20 || merged[1].Name != "c" {
			t.Fatalf("unexpected merge %+v", merged)
		}
		if index["b"] != 0 || index["c"] != 1 {
			t.Fatalf("unexpected index %v", index)
		}
		if len(dups) != 1 || dups[0] != "b" {
			t.Fatalf("dups: %v", dups)
		}
	})

	t.Run("no hook keeps identity and fields", func(t *testing.T) {
		old := &plain{"b", 2}
		merged, _, _ := mergeByName(pol, []*plain{old}, fresh, refresherFor[*plain](nil))
		if len(merged) != 2 || merged[0] != old || old.N != 2 {
			t.Fatalf("without a hook the old object stays untouched: %+v", merged[0])
		}
	})
}

func TestRefresherDetected(t *testing.T) {
	if refresherFor[*item](nil) == nil {
		t.Fatalf("*item implements Refresher and should be detected")
	}
	if refresherFor[*plain](nil) != nil {
		t.Fatalf("*plain has no Refresher")
	}
}

var plainFactory = FactoryFunc[string, *plain](func(_ context.Context, _ string, r Row) ([]*plain, error) {
	name, err := RowRequiredString(r, "name")
	if err != nil {
		return nil, err
	}
	n, err := RowInt(r, "value")
	if err != nil {
		return nil, err
	}
	return []*plain{{Name: name, N: int(n)}}, nil
})

// TestIdentityWithoutRefreshHook: a type with neither Refresher nor Options.Refresh
// still keeps its objects across a refresh and across a full load that follows a
// narrow lookup.
func TestIdentityWithoutRefreshHook(t *testing.T) {
	ctx := context.Background()
	full := newFakeSource(map[string][]MapRow{"": {row("A", 1), row("B", 2)}})
	narrow := newFakeSource(map[string][]MapRow{"B": {row("B", 2)}})
	c, err := NewLookupCache(Options[string, *plain]{
		Namespace: "main/tables",
		Source:    full,
		Factory:   plainFactory,
	}, narrow)
	if err != nil {
		t.Fatal(err)
	}

	b, ok, err := c.GetObject(ctx, "main", "B")
	if err != nil || !ok {
		t.Fatalf("lookup: %v %v", ok, err)
	}
	all, err := c.GetAllObjects(ctx, "main")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[1] != b {
		t.Fatalf("full load must keep the object found by the lookup")
	}

	a := all[0]
	full.set("", row("A", 10), row("B", 20))
	after, err := c.Refresh(ctx, "main")
	if err != nil {
		t.Fatal(err)
	}
	if after[0] != a || after[1] != b {
		t.Fatalf("refresh must keep identity without a hook")
	}
	if a.N != 1 || b.N != 2 {
		t.Fatalf("without a hook fields stay as they were: A=%d B=%d", a.N, b.N)
	}
}
