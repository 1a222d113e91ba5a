package engine

import (
	"log"
	"sync"
	"time"

	"github.com/lazypower/heatmap/internal/graph"
)

// Decay algorithm:
//   - Every node starts at intensity 100 and loses Step per decay tick.
//   - A node that reaches 0 is removed in the same tick.
//   - Connections older than TTL, or with a missing endpoint, are removed on
//     each prune tick.
//   - Decay and prune run on independent timers. With FrameCoupled set the
//     render loop calls DecayOnce per frame and the decay timer is off.

// SchedulerConfig sets the decay and prune cadence.
type SchedulerConfig struct {
	Step          float64
	DecayInterval time.Duration
	PruneInterval time.Duration
	TTL           time.Duration
	FrameCoupled  bool
}

// Scheduler applies decay and connection pruning to a store on timers.
type Scheduler struct {
	store   *graph.Store
	cfg     SchedulerConfig
	clock   func() time.Time
	onSweep func()

	mu       sync.Mutex
	started  bool
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewScheduler creates a stopped scheduler. onSweep, if set, runs after
// every decay or prune pass.
func NewScheduler(store *graph.Store, cfg SchedulerConfig, clock func() time.Time, onSweep func()) *Scheduler {
	if clock == nil {
		clock = time.Now
	}
	return &Scheduler{
		store:   store,
		cfg:     cfg,
		clock:   clock,
		onSweep: onSweep,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the timer goroutine. Calling it twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go func() {
		defer close(s.done)

		prune := time.NewTicker(s.cfg.PruneInterval)
		defer prune.Stop()

		// A nil channel never fires, which disables timer decay.
		var decayC <-chan time.Time
		if !s.cfg.FrameCoupled {
			decay := time.NewTicker(s.cfg.DecayInterval)
			defer decay.Stop()
			decayC = decay.C
		}

		for {
			select {
			case <-decayC:
				s.DecayOnce()
			case <-prune.C:
				s.PruneOnce()
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop halts the timers and waits for the goroutine. Safe to call more than
// once, and before Start.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
}

// DecayOnce applies one decay step and returns the number of nodes evicted.
func (s *Scheduler) DecayOnce() int {
	removed := s.store.DecayTick(s.cfg.Step)
	if s.onSweep != nil {
		s.onSweep()
	}
	return removed
}

// PruneOnce drops expired and dangling connections and returns the count.
func (s *Scheduler) PruneOnce() int {
	removed := s.store.PruneExpiredConnections(s.cfg.TTL, s.clock())
	if removed > 0 {
		log.Printf("engine: prune: removed %d connections", removed)
	}
	if s.onSweep != nil {
		s.onSweep()
	}
	return removed
}
