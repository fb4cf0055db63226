package metacache

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func newRegistryCache(t *testing.T, reg *Registry, ns string) *ObjectCache[string, *item] {
	t.Helper()
	c, err := NewObjectCache(Options[string, *item]{
		Namespace: ns,
		Source:    tableSource(),
		Factory:   itemFactory,
		Registry:  reg,
	})
	if err != nil {
		t.Fatalf("NewObjectCache(%s): %v", ns, err)
	}
	return c
}

func TestRegistrySubScopesNamespaces(t *testing.T) {
	root := NewRegistry(RegistryOptions{})
	conn := root.Sub("conn1")
	schema := conn.Sub("/schema=PUBLIC/")

	a := newRegistryCache(t, root, "settings")
	b := newRegistryCache(t, conn, "schemas")
	c := newRegistryCache(t, schema, "tables")

	if a.Namespace() != "settings" || b.Namespace() != "conn1/schemas" || c.Namespace() != "conn1/schema=PUBLIC/tables" {
		t.Fatalf("namespaces: %q %q %q", a.Namespace(), b.Namespace(), c.Namespace())
	}
	got := strings.Join(root.Namespaces(), ",")
	if got != "conn1/schema=PUBLIC/tables,conn1/schemas,settings" {
		t.Fatalf("Namespaces: %s", got)
	}
	if got := strings.Join(schema.Namespaces(), ","); got != "conn1/schema=PUBLIC/tables" {
		t.Fatalf("sub Namespaces: %s", got)
	}
}

func TestRegistryEnvironmentInherited(t *testing.T) {
	hooks := &recHooks{}
	reg := NewRegistry(RegistryOptions{Hooks: hooks, Policy: &NamePolicy{Mode: Upper}})
	src := newFakeSource(map[string][]MapRow{"": {row("tbl", 1), row("TBL", 2), row("x", "nan")}})
	c, err := NewObjectCache(Options[string, *item]{
		Namespace: "tables", Source: src, Factory: itemFactory, Registry: reg.Sub("conn1"),
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.GetAllObjects(context.Background(), "main")
	if err != nil || names(got) != "tbl" {
		t.Fatalf("registry policy not applied: %s %v", names(got), err)
	}
	if hooks.skipped != 1 {
		t.Fatalf("registry hooks not applied: %d", hooks.skipped)
	}

	// explicit option wins over the registry
	exact := NamePolicy{}
	c2, _ := NewObjectCache(Options[string, *item]{
		Namespace: "tables2", Source: src, Factory: itemFactory, Registry: reg, Policy: &exact,
	})
	got, _ = c2.GetAllObjects(context.Background(), "main")
	if names(got) != "tbl,TBL" {
		t.Fatalf("explicit policy ignored: %s", names(got))
	}
}

func TestRegistryClearAll(t *testing.T) {
	ctx := context.Background()
	root := NewRegistry(RegistryOptions{})
	a := newRegistryCache(t, root, "a")
	b := newRegistryCache(t, root.Sub("conn1"), "b")
	for _, c := range []*ObjectCache[string, *item]{a, b} {
		if _, err := c.GetAllObjects(ctx, "main"); err != nil {
			t.Fatal(err)
		}
	}
	if err := root.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if a.State() != NotLoaded || b.State() != NotLoaded {
		t.Fatalf("ClearAll must reach sub scopes: %v %v", a.State(), b.State())
	}
}

func TestRegistryClearAllJoinsFailures(t *testing.T) {
	ctx := context.Background()
	prov := newMemProvider()
	prov.delErr = errors.New("provider down")
	reg := NewRegistry(RegistryOptions{Provider: prov, Gens: brokenGens{}})
	a := newRegistryCache(t, reg, "a")
	b, err := NewObjectCache(Options[string, *item]{
		Namespace: "b", Source: tableSource(), Factory: itemFactory, Registry: reg,
		Snapshot: &SnapshotOptions[*item]{Codec: jsonItems},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.GetAllObjects(ctx, "main"); err != nil {
		t.Fatal(err)
	}

	err = reg.ClearAll(ctx)
	var ie *InvalidateError
	if !errors.As(err, &ie) || ie.Key != "coll:b" {
		t.Fatalf("want joined InvalidateError, got %v", err)
	}
	if a.State() != NotLoaded || b.State() != NotLoaded {
		t.Fatalf("memory is cleared even when invalidation fails")
	}
}

func TestRegistryClose(t *testing.T) {
	ctx := context.Background()
	prov := newMemProvider()
	root := NewRegistry(RegistryOptions{Provider: prov})
	sub := root.Sub("conn1")
	c := newRegistryCache(t, sub, "tables")
	if _, err := c.GetAllObjects(ctx, "main"); err != nil {
		t.Fatal(err)
	}

	if err := sub.Close(ctx); err != nil {
		t.Fatalf("sub Close: %v", err)
	}
	if c.State() != NotLoaded {
		t.Fatalf("Close should clear members")
	}
	if prov.closed != 0 {
		t.Fatalf("a sub scope must not close the shared provider")
	}
	if len(root.Namespaces()) != 0 {
		t.Fatalf("closed sub scope should be detached: %v", root.Namespaces())
	}
	if _, err := NewObjectCache(Options[string, *item]{
		Namespace: "late", Source: tableSource(), Factory: itemFactory, Registry: sub,
	}); !errors.Is(err, ErrRegistryClosed) {
		t.Fatalf("want ErrRegistryClosed, got %v", err)
	}

	if err := root.Close(ctx); err != nil {
		t.Fatalf("root Close: %v", err)
	}
	if err := root.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if prov.closed != 1 {
		t.Fatalf("provider closed %d times", prov.closed)
	}
}

func TestRegistrySubReusesScope(t *testing.T) {
	ctx := context.Background()
	root := NewRegistry(RegistryOptions{})
	first := root.Sub("schema=main")
	if again := root.Sub("/schema=main/"); again != first {
		t.Fatalf("Sub must return the live scope of the same name")
	}

	old := newRegistryCache(t, first, "tables")
	rebuilt := newRegistryCache(t, root.Sub("schema=main"), "tables")
	if got := strings.Join(root.Namespaces(), ","); got != "schema=main/tables" {
		t.Fatalf("a rebuilt cache replaces its predecessor: %s", got)
	}
	if _, err := old.GetAllObjects(ctx, "main"); err != nil {
		t.Fatal(err)
	}
	if _, err := rebuilt.GetAllObjects(ctx, "main"); err != nil {
		t.Fatal(err)
	}
	if err := root.ClearAll(ctx); err != nil {
		t.Fatal(err)
	}
	if rebuilt.State() != NotLoaded || old.State() != Loaded {
		t.Fatalf("ClearAll reaches only the registered cache: rebuilt=%v old=%v", rebuilt.State(), old.State())
	}

	if err := first.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if fresh := root.Sub("schema=main"); fresh == first {
		t.Fatalf("a closed scope must not be handed out again")
	}
}

func TestRegistrySubOfClosedRegistry(t *testing.T) {
	ctx := context.Background()
	root := NewRegistry(RegistryOptions{})
	if err := root.Close(ctx); err != nil {
		t.Fatal(err)
	}
	sub := root.Sub("conn1")
	if _, err := NewObjectCache(Options[string, *item]{
		Namespace: "tables", Source: tableSource(), Factory: itemFactory, Registry: sub,
	}); !errors.Is(err, ErrRegistryClosed) {
		t.Fatalf("want ErrRegistryClosed, got %v", err)
	}
	if len(root.Namespaces()) != 0 {
		t.Fatalf("a scope of a closed registry must stay detached")
	}
	if err := sub.Close(ctx); err != nil {
		t.Fatalf("closing the detached scope: %v", err)
	}
}
