// Package asynchook delivers metacache hook events from a bounded queue, so a slow
// sink never stretches a population's row loop. A full queue drops the event.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{RowSkipped: 100})
//	hooks := asynchook.New(raw, 1, 1024)
//	defer hooks.Close(context.Background())
//
//	reg := metacache.NewRegistry(metacache.RegistryOptions{Hooks: hooks})
package asynchook

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/metacache"
)

type kind uint8

const (
	rowSkipped kind = iota
	populationFailed
	populationCancelled
	snapshotRejected
	providerSetRejected
	genSnapshotError
	genBumpError
	invalidateOutage
)

// event is one queued hook call. key holds the namespace for population events
// and the storage key for snapshot events; detail holds op or reason.
type event struct {
	kind   kind
	key    string
	detail string
	err    error
	err2   error
	n      int
	bulk   bool
}

type Stats struct {
	Delivered uint64
	Dropped   uint64
}

type Hooks struct {
	inner metacache.Hooks
	q     chan event
	wg    sync.WaitGroup

	mu     sync.RWMutex // send vs close
	closed bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

var _ metacache.Hooks = (*Hooks)(nil)

// New starts workers goroutines (at least one) draining a queue of qlen events
// (1024 when qlen <= 0).
func New(inner metacache.Hooks, workers, qlen int) *Hooks {
	if qlen <= 0 {
		qlen = 1024
	}
	h := &Hooks{inner: inner, q: make(chan event, qlen)}
	for range max(workers, 1) {
		h.wg.Add(1)
		go h.work()
	}
	return h
}

func (h *Hooks) work() {
	defer h.wg.Done()
	for e := range h.q {
		h.dispatch(e)
		h.delivered.Add(1)
	}
}

func (h *Hooks) dispatch(e event) {
	switch e.kind {
	case rowSkipped:
		h.inner.RowSkipped(e.key, e.detail, e.err)
	case populationFailed:
		h.inner.PopulationFailed(e.key, e.detail, e.err)
	case populationCancelled:
		h.inner.PopulationCancelled(e.key, e.detail, e.n)
	case snapshotRejected:
		h.inner.SnapshotRejected(e.key, e.detail)
	case providerSetRejected:
		h.inner.ProviderSetRejected(e.key, e.bulk)
	case genSnapshotError:
		h.inner.GenSnapshotError(e.key, e.err)
	case genBumpError:
		h.inner.GenBumpError(e.key, e.err)
	case invalidateOutage:
		h.inner.InvalidateOutage(e.key, e.err, e.err2)
	}
}

func (h *Hooks) send(e event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- e:
	default:
		h.dropped.Add(1)
	}
}

// Close stops accepting events and waits until the queued ones are delivered or
// ctx is done. Events sent after Close are dropped.
func (h *Hooks) Close(ctx context.Context) error {
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.q)
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hooks) Stats() Stats {
	return Stats{Delivered: h.delivered.Load(), Dropped: h.dropped.Load()}
}

func (h *Hooks) RowSkipped(ns, op string, err error) {
	h.send(event{kind: rowSkipped, key: ns, detail: op, err: err})
}

func (h *Hooks) PopulationFailed(ns, op string, err error) {
	h.send(event{kind: populationFailed, key: ns, detail: op, err: err})
}

func (h *Hooks) PopulationCancelled(ns, op string, rows int) {
	h.send(event{kind: populationCancelled, key: ns, detail: op, n: rows})
}

func (h *Hooks) SnapshotRejected(key, reason string) {
	h.send(event{kind: snapshotRejected, key: key, detail: reason})
}

func (h *Hooks) ProviderSetRejected(key string, bulk bool) {
	h.send(event{kind: providerSetRejected, key: key, bulk: bulk})
}

func (h *Hooks) GenSnapshotError(key string, err error) {
	h.send(event{kind: genSnapshotError, key: key, err: err})
}

func (h *Hooks) GenBumpError(key string, err error) {
	h.send(event{kind: genBumpError, key: key, err: err})
}

func (h *Hooks) InvalidateOutage(key string, bumpErr, delErr error) {
	h.send(event{kind: invalidateOutage, key: key, err: bumpErr, err2: delErr})
}
