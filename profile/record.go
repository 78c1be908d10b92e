// Package profile implements the SICM profiling master: a periodic
// coordinator that runs a set of profiler workers against every live
// arena and folds their per-interval samples into running totals,
// peaks, and interval histories.
//
// The original is a POSIX-signal-driven dedicated OS thread waking
// worker threads with SIGRTMIN+N; sicm-go instead runs each worker in
// its own goroutine per tick behind a sync.WaitGroup barrier, stops the
// tick loop with context.Context cancellation, and paces intervals with
// time.Ticker (Open Question O2), grounded on
// kernel/threads/intelligence/scheduling/engine.go's coordinator shape
// and kernel/threads/supervisor/base.go's Start(ctx)/Stop() lifecycle.
package profile

import (
	"sync"

	"github.com/lanl/sicm-go/extent"
)

// EventRecord accumulates one (arena, event) pair's running total, peak,
// and dense per-interval history, per spec §4.6's post-interval fold.
type EventRecord struct {
	Total     uint64
	Peak      uint64
	Intervals []uint64
}

func (r *EventRecord) fold(sample uint64) {
	r.Total += sample
	if sample > r.Peak {
		r.Peak = sample
	}
	r.Intervals = append(r.Intervals, sample)
}

func (r *EventRecord) skip() {
	var prev uint64
	if n := len(r.Intervals); n > 0 {
		prev = r.Intervals[n-1]
	}
	r.fold(prev)
}

// ArenaProfile is the per-arena profiling state slot of spec §4.5 step 1,
// created by the master the first tick it sees a live arena: a set of named event
// records (one set per enabled profiler subclass), plus bookkeeping
// shared across subclasses.
type ArenaProfile struct {
	mu   sync.Mutex
	Arena extent.ArenaID

	FirstInterval int
	NumIntervals  int
	Sites         []int

	Events map[string]map[string]*EventRecord // subclass -> event name -> record
}

func newArenaProfile(id extent.ArenaID) *ArenaProfile {
	return &ArenaProfile{
		Arena:  id,
		Events: make(map[string]map[string]*EventRecord),
	}
}

func (a *ArenaProfile) record(subclass, event string) *EventRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	sub, ok := a.Events[subclass]
	if !ok {
		sub = make(map[string]*EventRecord)
		a.Events[subclass] = sub
	}
	rec, ok := sub[event]
	if !ok {
		rec = &EventRecord{}
		sub[event] = rec
	}
	return rec
}

func (a *ArenaProfile) touch(interval int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.NumIntervals == 0 {
		a.FirstInterval = interval
	}
	a.NumIntervals++
}

// Snapshot is an immutable copy of an ArenaProfile's records taken at
// interval boundaries, safe to hand to the online controller or the
// monitor package without holding any profiler lock.
type Snapshot struct {
	Arena         extent.ArenaID
	FirstInterval int
	NumIntervals  int
	Sites         []int
	Events        map[string]map[string]EventRecord
}

func (a *ArenaProfile) snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	events := make(map[string]map[string]EventRecord, len(a.Events))
	for sub, recs := range a.Events {
		inner := make(map[string]EventRecord, len(recs))
		for name, rec := range recs {
			inner[name] = EventRecord{
				Total:     rec.Total,
				Peak:      rec.Peak,
				Intervals: append([]uint64(nil), rec.Intervals...),
			}
		}
		events[sub] = inner
	}
	return Snapshot{
		Arena:         a.Arena,
		FirstInterval: a.FirstInterval,
		NumIntervals:  a.NumIntervals,
		Sites:         append([]int(nil), a.Sites...),
		Events:        events,
	}
}
