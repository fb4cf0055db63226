package genstore

import (
	"context"
	"sync"
	"time"
)

var _ GenStore = (*Local)(nil)

type LocalOptions struct {
	// Retention prunes generations not bumped for that long; 0 keeps them forever.
	// It must exceed the snapshot TTL: a pruned key reads 0 again, which would revive
	// frames written before its first bump.
	Retention time.Duration
	// Sweep is the pruning interval. Default Retention/4.
	Sweep time.Duration

	now func() time.Time
}

type localGen struct {
	gen    uint64
	bumped time.Time
}

// Local keeps generations in process memory.
type Local struct {
	mu   sync.RWMutex
	gens map[string]localGen
	opts LocalOptions

	stop context.CancelFunc
	done chan struct{}
	once sync.Once
}

func NewLocal(opts LocalOptions) *Local {
	if opts.now == nil {
		opts.now = time.Now
	}
	s := &Local{gens: make(map[string]localGen), opts: opts}
	if opts.Retention <= 0 {
		return s
	}
	sweep := opts.Sweep
	if sweep <= 0 {
		sweep = opts.Retention / 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stop, s.done = cancel, make(chan struct{})
	go s.janitor(ctx, sweep)
	return s
}

func (s *Local) janitor(ctx context.Context, every time.Duration) {
	defer close(s.done)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Prune()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Local) Snapshot(_ context.Context, k string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gens[k].gen, nil
}

func (s *Local) Bump(_ context.Context, k string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.gens[k]
	g.gen++
	g.bumped = s.opts.now()
	s.gens[k] = g
	return g.gen, nil
}

// Prune drops generations older than the retention. The janitor calls it on every
// sweep.
func (s *Local) Prune() {
	if s.opts.Retention <= 0 {
		return
	}
	cutoff := s.opts.now().Add(-s.opts.Retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, g := range s.gens {
		if g.bumped.Before(cutoff) {
			delete(s.gens, k)
		}
	}
}

func (s *Local) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.gens)
}

// Close stops the janitor; generations stay readable.
func (s *Local) Close(context.Context) error {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
			<-s.done
		}
	})
	return nil
}
