package asynchook

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/metacache"
)

type recorder struct {
	metacache.NopHooks
	mu     sync.Mutex
	events []string
	block  chan struct{}
}

func (r *recorder) add(s string) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.events = append(r.events, s)
	r.mu.Unlock()
}

func (r *recorder) RowSkipped(ns, op string, err error) { r.add(ns + " " + op + ": " + err.Error()) }
func (r *recorder) SnapshotRejected(key, reason string) { r.add(key + " " + reason) }
func (r *recorder) InvalidateOutage(key string, b, d error) {
	r.add(key + " " + b.Error() + "/" + d.Error())
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestDeliversQueuedEventsOnClose(t *testing.T) {
	rec := &recorder{}
	h := New(rec, 2, 16)
	for i := 0; i < 5; i++ {
		h.RowSkipped("main/indexes", "load children", errors.New("unknown index type"))
	}
	h.SnapshotRejected("coll:main/tables", "gen_mismatch")
	h.InvalidateOutage("obj:main/tables:ab", errors.New("bump"), errors.New("del"))

	if err := h.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}

	got := rec.snapshot()
	if len(got) != 7 {
		t.Fatalf("want 7 events, got %d: %v", len(got), got)
	}
	want := map[string]bool{
		"main/indexes load children: unknown index type": true,
		"coll:main/tables gen_mismatch":                  true,
		"obj:main/tables:ab bump/del":                    true,
	}
	for _, e := range got {
		if !want[e] {
			t.Fatalf("unexpected event %q", e)
		}
	}
	if s := h.Stats(); s.Delivered != 7 || s.Dropped != 0 {
		t.Fatalf("stats %+v", s)
	}
}

func TestDropsWhenFull(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	h := New(rec, 1, 1)
	for i := 0; i < 10; i++ {
		h.RowSkipped("ns", "load", errors.New("x"))
	}
	if h.Stats().Dropped == 0 {
		t.Fatalf("expected drops with a blocked worker and qlen=1")
	}
	close(rec.block)
	if err := h.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	s := h.Stats()
	if s.Delivered+s.Dropped != 10 {
		t.Fatalf("every event is delivered or dropped: %+v", s)
	}
}

func TestSendAfterCloseIsDropped(t *testing.T) {
	rec := &recorder{}
	h := New(rec, 1, 4)
	_ = h.Close(context.Background())
	h.RowSkipped("ns", "load", errors.New("late"))
	if len(rec.snapshot()) != 0 || h.Stats().Dropped != 1 {
		t.Fatalf("late event must be dropped: %+v", h.Stats())
	}
}

func TestCloseHonoursContext(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	h := New(rec, 1, 4)
	h.RowSkipped("ns", "load", errors.New("stuck"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := h.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
	close(rec.block)
	if err := h.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
}
