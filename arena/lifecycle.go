package arena

import (
	"fmt"
	"sync"

	"github.com/lanl/sicm-go/extent"
	"github.com/lanl/sicm-go/internal/diag"
)

// Tracker exclusively owns the arena list, per spec §3 Ownership summary.
// It is a process singleton, constructed once by the router at startup
// (DESIGN NOTES §9: "model them as a single top-level struct... expose
// only handles"), and also owns the one process-wide extent registry
// (spec §4.4/§5) shared by every arena it creates.
type Tracker struct {
	mu       sync.Mutex
	byIndex  map[extent.ArenaID]*Arena
	next     uint32
	registry *extent.Registry
}

// NewTracker creates an empty arena tracker with its own process-wide
// extent registry.
func NewTracker() *Tracker {
	return &Tracker{byIndex: make(map[extent.ArenaID]*Arena), registry: extent.New()}
}

// Registry returns the process-wide extent registry shared by every
// arena this tracker has created.
func (t *Tracker) Registry() *extent.Registry { return t.registry }

// Create allocates a fresh arena index and registers the arena, binding
// it to the tracker's shared registry regardless of what cfg.Registry
// was set to.
func (t *Tracker) Create(cfg Config) (*Arena, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := extent.ArenaID(t.next)
	t.next++

	cfg.Registry = t.registry
	a, err := New(idx, cfg)
	if err != nil {
		return nil, err
	}
	t.byIndex[idx] = a
	return a, nil
}

// Get looks up an arena by index.
func (t *Tracker) Get(idx extent.ArenaID) (*Arena, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.byIndex[idx]
	return a, ok
}

// List returns every live (non-destroyed) arena.
func (t *Tracker) List() []*Arena {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Arena, 0, len(t.byIndex))
	for _, a := range t.byIndex {
		out = append(out, a)
	}
	return out
}

// Destroy unmaps all of an arena's extents and removes it from the
// tracker, per spec §4.2's Destroy arena algorithm. The arena is first
// removed from the global list under the tracker's lock so no concurrent
// lookup can observe a half-destroyed arena, then every extent is
// unmapped (equivalent to the underlying allocator calling dalloc on
// every surviving extent during arena teardown).
func (t *Tracker) Destroy(idx extent.ArenaID) error {
	t.mu.Lock()
	a, ok := t.byIndex[idx]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("arena: destroy: unknown arena %d", idx)
	}
	delete(t.byIndex, idx)
	t.mu.Unlock()

	var firstErr error
	var released []extent.Slot
	a.registry.ScanArena(idx, func(slot extent.Slot) {
		if err := unixUnmapAll(slot.Start, slot.End); err != nil {
			diag.Warnf("arena: destroy: munmap 0x%x..0x%x: %v", slot.Start, slot.End, err)
			if firstErr == nil {
				firstErr = err
			}
		}
		released = append(released, slot)
	})
	// The scan holds the registry's reader lock, so the entries are
	// removed only after it returns.
	for _, slot := range released {
		a.registry.Delete(slot.Start, slot.End)
	}

	a.mu.Lock()
	a.size = 0
	a.destroyed.Store(true)
	a.mu.Unlock()

	if a.backing.File != nil {
		if err := a.backing.File.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
