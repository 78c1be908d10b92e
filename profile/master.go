package profile

import (
	"context"
	"sync"
	"time"

	"github.com/lanl/sicm-go/extent"
	"github.com/lanl/sicm-go/internal/diag"
	"github.com/lanl/sicm-go/router"
)

// Worker is one profiler subclass (§4.6-4.8). RunInterval is invoked on
// the ticks the worker is not skipping; SkipInterval otherwise. Each of
// them folds its sample (or, on a skip, the skip-carry value) into the
// arena's EventRecords itself; there is no separate post-interval call.
//
// This interface replaces the original's two-signal
// (run-signal/skip-signal) worker-thread protocol: on every tick the
// master starts one goroutine per worker, which calls RunInterval or
// SkipInterval directly, and waits for all of them on a sync.WaitGroup
// before the tick ends (see Open Question O2).
type Worker interface {
	Name() string
	SkipEvery() int
	RunInterval(ctx context.Context, tracker *router.Router, profiles map[extent.ArenaID]*ArenaProfile) error
	SkipInterval(profiles map[extent.ArenaID]*ArenaProfile)
	Close() error
}

// Master is the profiling coordinator of spec §4.5, adapted to
// context.Context cancellation and a time.Ticker in place of a
// POSIX-signal-driven dedicated thread.
type Master struct {
	interval time.Duration
	router   *router.Router
	workers  []Worker

	mu           sync.RWMutex
	profiles     map[extent.ArenaID]*ArenaProfile
	intervalNum  int
	tickCount    map[string]int // per-worker tick counter for skip-every-N

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMaster builds a profiling master that will sample r's tracked
// arenas every interval, running the given workers.
func NewMaster(interval time.Duration, r *router.Router, workers []Worker) *Master {
	return &Master{
		interval:  interval,
		router:    r,
		workers:   workers,
		profiles:  make(map[extent.ArenaID]*ArenaProfile),
		tickCount: make(map[string]int),
	}
}

// Snapshot returns a copy of every tracked arena's current profile.
func (m *Master) Snapshot() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p.snapshot())
	}
	return out
}

// Start launches the master's tick loop in a background goroutine,
// mirroring spec §4.5's "dedicated OS thread" with the interval timer
// replaced by a time.Ticker per Open Question O2.
func (m *Master) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.tick(ctx)
			}
		}
	}()
}

// Stop cancels the master's tick loop and its workers, then waits for
// the loop goroutine to exit (spec §4.5: "cancels and joins all
// workers, deletes the timer, and exits").
func (m *Master) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}
	for _, w := range m.workers {
		if err := w.Close(); err != nil {
			diag.Warnf("profile: worker %s close: %v", w.Name(), err)
		}
	}
}

func (m *Master) tick(ctx context.Context) {
	start := time.Now()

	m.mu.Lock()
	for _, a := range m.router.Tracker().List() {
		if _, ok := m.profiles[a.Index]; !ok {
			m.profiles[a.Index] = newArenaProfile(a.Index)
		}
	}
	for _, p := range m.profiles {
		p.touch(m.intervalNum)
	}
	profiles := m.profiles
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range m.workers {
		w := w
		m.tickCount[w.Name()]++
		skip := w.SkipEvery() > 0 && m.tickCount[w.Name()]%(w.SkipEvery()+1) != 0

		wg.Add(1)
		go func() {
			defer wg.Done()
			if skip {
				w.SkipInterval(profiles)
				return
			}
			if err := w.RunInterval(ctx, m.router, profiles); err != nil {
				diag.WarnfRateLimited("profile:"+w.Name(), 5*time.Second, "profile: worker %s: %v", w.Name(), err)
			}
		}()
	}
	wg.Wait()
	m.propagateLatencyMultiplier()

	m.mu.Lock()
	m.intervalNum++
	m.mu.Unlock()

	if elapsed := time.Since(start); elapsed > m.interval {
		diag.WarnfRateLimited("profile:overrun", 5*time.Second,
			"profile: tick took %s, exceeding configured interval %s", elapsed, m.interval)
	}
}

// propagateLatencyMultiplier carries a LatencyProfiler's per-event
// weighting scalar (sicm_profilers.h's "set multipliers" option) into
// any AccessSampleProfiler among the master's workers. Workers run
// concurrently within a tick (see Worker doc comment), so a latency
// reading from tick N is applied to profile-all's fold starting at
// tick N+1 rather than within the same interval that produced it —
// one interval of lag in exchange for not serializing the two
// profilers against each other.
func (m *Master) propagateLatencyMultiplier() {
	var mult float64
	haveLatency := false
	for _, w := range m.workers {
		if lp, ok := w.(*LatencyProfiler); ok {
			mult = lp.Multiplier()
			haveLatency = true
		}
	}
	if !haveLatency {
		return
	}
	for _, w := range m.workers {
		if ap, ok := w.(*AccessSampleProfiler); ok {
			ap.SetUniformMultiplier(mult)
		}
	}
}
