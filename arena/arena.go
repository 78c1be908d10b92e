// Package arena implements the SICM arena subsystem: a layer over an
// extent-hook-style allocator extension point that binds every page it
// maps to a chosen device set, tracks the resulting extents, and supports
// live migration of an arena's pages to a new device set.
//
// The design is grounded on kernel/threads/arena's HybridAllocator/
// BuddyAllocator size-class routing and bitmap-tracked bookkeeping, and
// kernel/threads/sab/hal_native.go's syscall-level mmap lifecycle,
// generalized from a single SharedArrayBuffer to arbitrary per-arena
// anonymous or file-backed mappings bound to NUMA devices.
package arena

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/lanl/sicm-go/device"
	"github.com/lanl/sicm-go/extent"
)

// BindPolicy selects how strictly an arena's devices are enforced.
type BindPolicy int

const (
	// Strict corresponds to MPOL_BIND: a hard node mask.
	Strict BindPolicy = iota
	// Relaxed corresponds to MPOL_PREFERRED: a preferred node mask.
	Relaxed
)

// IOBacking describes what kind of OS mapping backs an arena's extents.
type IOBacking struct {
	Anonymous bool
	File      *os.File
	Offset    int64
}

// Arena is an owned handle to an allocator sub-pool bound to a device
// list (spec §3).
type Arena struct {
	Index   extent.ArenaID
	MaxSize uintptr // 0 = unlimited

	mu       sync.Mutex
	devices  []device.Device
	nodeMask device.NodeMask
	policy   BindPolicy
	size     uintptr // sum of live extent bytes; maintained under mu

	registry *extent.Registry
	backing  IOBacking

	// pshared reports whether this arena's mutex must be process-shared;
	// modeled here as a bool flag only, since Go provides no pshared
	// mutex primitive and every SICM-Go arena lives in one process.
	pshared bool

	destroyed atomic.Bool
}

// Config configures a new Arena.
type Config struct {
	MaxSize uintptr
	Policy  BindPolicy
	Devices []device.Device
	Backing IOBacking

	// Registry is the extent registry this arena records its extents in.
	// Nil means "construct a private one", the convenient default for
	// tests and other direct New callers that never go through a
	// Tracker. Tracker.Create always overrides this with the tracker's
	// own shared registry (spec §4.4/§5: one process-wide registry under
	// one reader/writer lock, scanned in full by profilers every
	// interval), since every production arena is created through a
	// Tracker.
	Registry *extent.Registry
}

// New creates an arena bound to devices, honoring the invariant that all
// devices in an arena's device list share one page size (spec §3).
func New(index extent.ArenaID, cfg Config) (*Arena, error) {
	if len(cfg.Devices) == 0 {
		return nil, fmt.Errorf("arena: device list must be non-empty")
	}
	dl := device.List{Devices: cfg.Devices}
	if !dl.SamePageSize() {
		return nil, fmt.Errorf("arena: devices must share one page size")
	}

	backing := cfg.Backing
	if backing.File == nil {
		backing.Anonymous = true
	}

	registry := cfg.Registry
	if registry == nil {
		registry = extent.New()
	}

	return &Arena{
		Index:    index,
		MaxSize:  cfg.MaxSize,
		devices:  append([]device.Device(nil), cfg.Devices...),
		nodeMask: device.NewNodeMask(cfg.Devices),
		policy:   cfg.Policy,
		registry: registry,
		backing:  backing,
		pshared:  !backing.Anonymous,
	}, nil
}

// Size returns the sum of live extent bytes (spec §3 invariant (iii)).
func (a *Arena) Size() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// Devices returns a copy of the arena's current device list.
func (a *Arena) Devices() []device.Device {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]device.Device(nil), a.devices...)
}

// PageSize returns the shared page size (KiB) of the arena's devices.
func (a *Arena) PageSize() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.devices) == 0 {
		return 4
	}
	return a.devices[0].PageKB
}

// Registry exposes the process-wide extent registry this arena's
// extents are recorded in, for the profile package's read-only scans
// (spec §5 "profiler worker threads hold shared read borrows of the
// extent registry"). Every arena created through a Tracker shares the
// same *extent.Registry; this accessor does not imply a private one.
func (a *Arena) Registry() *extent.Registry { return a.registry }

// IsDestroyed reports whether Destroy has completed.
func (a *Arena) IsDestroyed() bool { return a.destroyed.Load() }
