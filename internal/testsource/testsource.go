// Package testsource provides an in-memory metacache.RowSource for tests: canned rows
// per key, Open counters and gates that hold a query open until released.
package testsource

import (
	"context"
	"sync"

	"github.com/unkn0wn-root/metacache"
)

// Source serves canned rows per key. The zero value is not usable; see New.
type Source[O any] struct {
	mu    sync.Mutex
	rows  map[string][]metacache.MapRow
	calls map[string]int
	err   map[string]error
	gates map[string]*Gate

	// OnRow, when set, runs before row i of every stream is handed out.
	OnRow func(key string, i int)
}

func New[O any]() *Source[O] {
	return &Source[O]{
		rows:  make(map[string][]metacache.MapRow),
		calls: make(map[string]int),
		err:   make(map[string]error),
		gates: make(map[string]*Gate),
	}
}

// Set replaces the rows served for key ("" is the full enumeration).
func (s *Source[O]) Set(key string, rows ...metacache.MapRow) *Source[O] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[key] = rows
	return s
}

// Fail makes Open(key) return err until Fail(key, nil).
func (s *Source[O]) Fail(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.err, key)
		return
	}
	s.err[key] = err
}

// Hold installs a gate on key: the next Open(key) blocks until the gate is released
// or its context ends.
func (s *Source[O]) Hold(key string) *Gate {
	g := &Gate{entered: make(chan struct{}), release: make(chan struct{})}
	s.mu.Lock()
	s.gates[key] = g
	s.mu.Unlock()
	return g
}

// Calls returns how many times key was opened.
func (s *Source[O]) Calls(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

// Total returns the number of Open calls across keys.
func (s *Source[O]) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *Source[O]) Open(ctx context.Context, _ O, key string) (metacache.Rows, error) {
	s.mu.Lock()
	s.calls[key]++
	g := s.gates[key]
	delete(s.gates, key)
	s.mu.Unlock()

	if g != nil {
		close(g.entered)
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err[key]; err != nil {
		return nil, err
	}
	return &rows{key: key, rows: s.rows[key], onRow: s.OnRow}, nil
}

// Gate holds one Open call.
type Gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

// Entered is closed once the gated Open has started.
func (g *Gate) Entered() <-chan struct{} { return g.entered }

// Release lets the gated Open continue. Safe to call more than once.
func (g *Gate) Release() { g.once.Do(func() { close(g.release) }) }

type rows struct {
	key   string
	rows  []metacache.MapRow
	i     int
	onRow func(string, int)
}

func (r *rows) Next() bool {
	if r.i >= len(r.rows) {
		return false
	}
	if r.onRow != nil {
		r.onRow(r.key, r.i)
	}
	r.i++
	return true
}

func (r *rows) Row() metacache.Row { return r.rows[r.i-1] }
func (r *rows) Err() error         { return nil }
func (r *rows) Close() error       { return nil }
