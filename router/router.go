// Package router implements the SICM site-to-arena router: at each
// configured layout, resolve an allocation site (plus, for some
// layouts, a per-thread Context) to an arena index, creating arenas
// lazily and memoizing the mapping.
//
// Grounded on kernel/threads/sab/epoch_allocator.go's "hash/lookup
// table guarded by one mutex, atomic next-index hint" idiom, adapted
// from a single epoch table to the five layouts' differing memoization
// keys (global, per-thread, per-thread×device, per-site,
// per-thread-or-per-site).
package router

import (
	"fmt"
	"sync"

	"github.com/lanl/sicm-go/arena"
	"github.com/lanl/sicm-go/config"
	"github.com/lanl/sicm-go/device"
	"github.com/lanl/sicm-go/extent"
)

// ErrNoDevice is returned when the router has no device to bind a fresh
// arena to (no guidance entry, no default device configured).
var ErrNoDevice = fmt.Errorf("router: no device available for site")

// ErrTooManySites is returned when an arena's alloc_sites list would
// exceed SH_MAX_SITES_PER_ARENA (spec §4.3, a fatal "programming error"
// resource-exhaustion condition per spec §7).
var ErrTooManySites = fmt.Errorf("router: arena site list full")

// Router owns the site table, the device memoization maps, and the
// arena tracker. One Router is a process singleton.
type Router struct {
	cfg      config.Config
	tracker  *arena.Tracker
	guidance config.Guidance
	devices  map[int]device.Device // keyed by NUMAID

	creationMu sync.Mutex

	siteMu    sync.RWMutex
	siteArena map[int]extent.ArenaID

	sitesMu       sync.Mutex
	arenaSites    map[extent.ArenaID][]int
	deviceArenaMu sync.Mutex
	deviceArenas  map[int]extent.ArenaID // global EXCLUSIVE_DEVICE_ARENAS fallback keyed by NUMAID, used outside a Context

	oneArenaMu  sync.Mutex
	oneArenaIdx extent.ArenaID
	oneArenaSet bool

	defaultMu  sync.Mutex
	defaultIdx extent.ArenaID
	defaultSet bool

	defaultNodeMu sync.RWMutex
	defaultNode   int

	isolateSite   int
	isolateDevice device.Device
	isolateActive bool
}

// New builds a Router over an already-enumerated device list.
func New(cfg config.Config, guidance config.Guidance, devices device.List) *Router {
	byID := make(map[int]device.Device, len(devices.Devices))
	for _, d := range devices.Devices {
		if _, exists := byID[d.NUMAID]; !exists {
			byID[d.NUMAID] = d
		}
	}
	return &Router{
		cfg:          cfg,
		tracker:      arena.NewTracker(),
		guidance:     guidance,
		devices:      byID,
		siteArena:    make(map[int]extent.ArenaID),
		arenaSites:   make(map[extent.ArenaID][]int),
		deviceArenas: make(map[int]extent.ArenaID),
		defaultNode:  cfg.DefaultNode,
	}
}

// SetDefaultNode changes the node new allocations fall back to when a
// site has no guidance entry and no isolation override, per spec §4.9
// step 1: "If lower-avail has decreased since startup and
// upper_contention is not yet set, set it and switch the router's
// default-device to lower." Unlike cfg.DefaultNode (fixed at process
// start), this is mutated at runtime by the online controller once
// contention first latches.
func (r *Router) SetDefaultNode(node int) {
	r.defaultNodeMu.Lock()
	r.defaultNode = node
	r.defaultNodeMu.Unlock()
}

// SetIsolation forces a single site onto a dedicated device, per spec
// §4.3's "isolate site S for bandwidth profiling" policy.
func (r *Router) SetIsolation(site int, dev device.Device) {
	r.isolateSite = site
	r.isolateDevice = dev
	r.isolateActive = true
}

func (r *Router) deviceFor(site int) (device.Device, error) {
	if r.isolateActive && site == r.isolateSite {
		return r.isolateDevice, nil
	}
	if node, ok := r.guidance.NodeFor(site); ok {
		if d, ok := r.devices[node]; ok {
			return d, nil
		}
	}
	r.defaultNodeMu.RLock()
	defaultNode := r.defaultNode
	r.defaultNodeMu.RUnlock()
	if d, ok := r.devices[defaultNode]; ok {
		return d, nil
	}
	return device.Device{}, ErrNoDevice
}

// SetDefaultArena records the process-wide default arena, per
// sicm_arena_set_default/sicm_arena_get_default
// (include/high/public/sicm_high.h).
func (r *Router) SetDefaultArena(idx extent.ArenaID) {
	r.defaultMu.Lock()
	r.defaultIdx = idx
	r.defaultSet = true
	r.defaultMu.Unlock()
}

// DefaultArena returns the process-wide default arena set by
// SetDefaultArena, the target for a site's bypass-to-malloc fallback
// mirror image: a request for a site with no resolvable device falls
// back to the default arena instead of hard failing, per
// sicm_high_init.c's fallback chain.
func (r *Router) DefaultArena() (*arena.Arena, bool) {
	r.defaultMu.Lock()
	idx, ok := r.defaultIdx, r.defaultSet
	r.defaultMu.Unlock()
	if !ok {
		return nil, false
	}
	return r.tracker.Get(idx)
}

// Tracker exposes the underlying arena tracker for low-level arena API
// callers (arena_lookup, arenas_list, etc.).
func (r *Router) Tracker() *arena.Tracker { return r.tracker }

// createArena implements spec §4.3's create-arena(index, site, device)
// under the global arena-creation mutex: allocate the arena, attach the
// site to its alloc_sites list (capped by MaxSitesPerArena), bind it to
// a one-device list containing dev.
func (r *Router) createArena(site int, dev device.Device) (*arena.Arena, error) {
	r.creationMu.Lock()
	defer r.creationMu.Unlock()

	if len(r.tracker.List()) >= r.cfg.MaxArenas {
		return nil, fmt.Errorf("router: max arenas (%d) reached", r.cfg.MaxArenas)
	}

	a, err := r.tracker.Create(arena.Config{
		Policy:  arena.Strict,
		Devices: []device.Device{dev},
	})
	if err != nil {
		return nil, err
	}

	if err := r.attachSite(a.Index, site); err != nil {
		_ = r.tracker.Destroy(a.Index)
		return nil, err
	}
	return a, nil
}

func (r *Router) attachSite(idx extent.ArenaID, site int) error {
	r.sitesMu.Lock()
	defer r.sitesMu.Unlock()

	sites := r.arenaSites[idx]
	for _, s := range sites {
		if s == site {
			return nil
		}
	}
	if len(sites) >= r.cfg.MaxSitesPerArena {
		return ErrTooManySites
	}
	r.arenaSites[idx] = append(sites, site)
	return nil
}

// ArenaForSite looks up the arena currently memoized for a site under
// SHARED_SITE_ARENAS (the layout the online controller of spec §4.9
// assumes, since its hotset is keyed by site and migrated via
// set-devices(arena, ...) one arena per site).
func (r *Router) ArenaForSite(site int) (*arena.Arena, bool) {
	r.siteMu.RLock()
	idx, ok := r.siteArena[site]
	r.siteMu.RUnlock()
	if !ok {
		return nil, false
	}
	return r.tracker.Get(idx)
}

// SitesOf returns the alloc_sites list attached to an arena.
func (r *Router) SitesOf(idx extent.ArenaID) []int {
	r.sitesMu.Lock()
	defer r.sitesMu.Unlock()
	return append([]int(nil), r.arenaSites[idx]...)
}

// resolveOneArena implements the ONE_ARENA layout: index 0 for every
// site, created lazily on first use.
func (r *Router) resolveOneArena(site int) (*arena.Arena, error) {
	r.oneArenaMu.Lock()
	if r.oneArenaSet {
		idx := r.oneArenaIdx
		r.oneArenaMu.Unlock()
		a, ok := r.tracker.Get(idx)
		if !ok {
			return nil, fmt.Errorf("router: one-arena vanished")
		}
		if err := r.attachSite(idx, site); err != nil {
			return nil, err
		}
		return a, nil
	}
	r.oneArenaMu.Unlock()

	dev, err := r.deviceFor(site)
	if err != nil {
		return nil, err
	}
	a, err := r.createArena(site, dev)
	if err != nil {
		return nil, err
	}

	r.oneArenaMu.Lock()
	if !r.oneArenaSet {
		r.oneArenaIdx = a.Index
		r.oneArenaSet = true
	}
	r.oneArenaMu.Unlock()
	return a, nil
}

// resolveSharedSite implements SHARED_SITE_ARENAS: one arena per site,
// memoized in the site table (spec §4.3: "memoized in an atomic array
// indexed by site ID").
func (r *Router) resolveSharedSite(site int) (*arena.Arena, error) {
	r.siteMu.RLock()
	idx, ok := r.siteArena[site]
	r.siteMu.RUnlock()
	if ok {
		a, ok := r.tracker.Get(idx)
		if ok {
			return a, nil
		}
	}

	dev, err := r.deviceFor(site)
	if err != nil {
		return nil, err
	}

	r.siteMu.Lock()
	defer r.siteMu.Unlock()
	if idx, ok := r.siteArena[site]; ok {
		if a, ok := r.tracker.Get(idx); ok {
			return a, nil
		}
	}
	a, err := r.createArena(site, dev)
	if err != nil {
		return nil, err
	}
	r.siteArena[site] = a.Index
	return a, nil
}

// resolveExclusive implements EXCLUSIVE_ARENAS: one arena per thread,
// shared across all that thread's sites.
func (r *Router) resolveExclusive(ctx *Context, site int) (*arena.Arena, error) {
	if idx, ok := ctx.exclusiveArena(); ok {
		if a, ok := r.tracker.Get(idx); ok {
			if err := r.attachSite(idx, site); err != nil {
				return nil, err
			}
			return a, nil
		}
	}
	dev, err := r.deviceFor(site)
	if err != nil {
		return nil, err
	}
	a, err := r.createArena(site, dev)
	if err != nil {
		return nil, err
	}
	ctx.setExclusiveArena(a.Index)
	return a, nil
}

// resolveExclusiveDevice implements EXCLUSIVE_DEVICE_ARENAS: one arena
// per thread × per device, keyed by the site's resolved device.
func (r *Router) resolveExclusiveDevice(ctx *Context, site int) (*arena.Arena, error) {
	dev, err := r.deviceFor(site)
	if err != nil {
		return nil, err
	}
	if idx, ok := ctx.deviceArena(dev.NUMAID); ok {
		if a, ok := r.tracker.Get(idx); ok {
			if err := r.attachSite(idx, site); err != nil {
				return nil, err
			}
			return a, nil
		}
	}
	a, err := r.createArena(site, dev)
	if err != nil {
		return nil, err
	}
	ctx.setDeviceArena(dev.NUMAID, a.Index)
	return a, nil
}

// resolveBigSmall implements BIG_SMALL_ARENAS: a per-thread small arena
// for requests below SH_BIG_SMALL_THRESHOLD, else the per-site arena.
func (r *Router) resolveBigSmall(ctx *Context, site int, size uintptr) (*arena.Arena, error) {
	if uint64(size) >= r.cfg.BigSmallThreshold {
		return r.resolveSharedSite(site)
	}
	if idx, ok := ctx.smallArena(); ok {
		if a, ok := r.tracker.Get(idx); ok {
			if err := r.attachSite(idx, site); err != nil {
				return nil, err
			}
			return a, nil
		}
	}
	dev, err := r.deviceFor(site)
	if err != nil {
		return nil, err
	}
	a, err := r.createArena(site, dev)
	if err != nil {
		return nil, err
	}
	ctx.setSmallArena(a.Index)
	return a, nil
}

// Resolve selects (or lazily creates) the arena for a site/size pair
// under the configured layout, per spec §4.3's rule table. ctx may be
// nil for ONE_ARENA and SHARED_SITE_ARENAS, which need no per-thread
// state; EXCLUSIVE_ARENAS, EXCLUSIVE_DEVICE_ARENAS, and BIG_SMALL_ARENAS
// require a non-nil Context.
func (r *Router) Resolve(ctx *Context, site int, size uintptr) (*arena.Arena, error) {
	var a *arena.Arena
	var err error

	switch r.cfg.ArenaLayout {
	case config.OneArena:
		a, err = r.resolveOneArena(site)
	case config.SharedSiteArenas:
		a, err = r.resolveSharedSite(site)
	case config.ExclusiveArenas:
		if ctx == nil {
			return nil, fmt.Errorf("router: EXCLUSIVE_ARENAS requires a *Context")
		}
		a, err = r.resolveExclusive(ctx, site)
	case config.ExclusiveDeviceArenas:
		if ctx == nil {
			return nil, fmt.Errorf("router: EXCLUSIVE_DEVICE_ARENAS requires a *Context")
		}
		a, err = r.resolveExclusiveDevice(ctx, site)
	case config.BigSmallArenas:
		if ctx == nil {
			return nil, fmt.Errorf("router: BIG_SMALL_ARENAS requires a *Context")
		}
		a, err = r.resolveBigSmall(ctx, site, size)
	default:
		return nil, fmt.Errorf("router: unknown layout %v", r.cfg.ArenaLayout)
	}
	if err != nil {
		if err == ErrNoDevice {
			if def, ok := r.DefaultArena(); ok {
				a, err = def, nil
			}
		}
		if err != nil {
			return nil, err
		}
	}

	if ctx != nil {
		ctx.setPending(a.Index)
	}
	return a, nil
}
