package online

import (
	"time"

	"github.com/lanl/sicm-go/device"
	"github.com/lanl/sicm-go/internal/diag"
	"github.com/lanl/sicm-go/router"
)

// WeightMetric selects which per-arena capacity metric backs a site's
// weight, per spec §4.9 step 2 ("weight = chosen capacity metric —
// allocs-peak, extent-size-peak, or RSS-peak").
type WeightMetric int

const (
	WeightAllocsPeak WeightMetric = iota
	WeightExtentSizePeak
	WeightRSSPeak
)

// Controller is the online placement controller of spec §4.9, adapted
// to migrate through arena.Arena.SetDevices on the arena the router
// resolved for each site (router.ArenaForSite) instead of the
// original's arena_set_devices C call, and to run from Go's
// time.Ticker-driven profiling master tick rather than a POSIX thread.
type Controller struct {
	router *router.Router
	gate   *ReconfigureGate
	sort   SortKey
	weight WeightMetric
	sel    HotsetSelector
	nobind bool

	upperDevice, lowerDevice device.Device
	upperDL, lowerDL         []device.Device

	upperAvailInitial uint64
	lowerAvailInitial uint64

	prevHotset       map[int]bool
	offlineSites     map[int]SiteInfo
	offlineMixRatio  float64
	siteHotIntervals map[int]int
	rebindAfterHotN  int
	numReconfigures  int
}

// Config configures a Controller at construction time.
type Config struct {
	Router          *router.Router
	UpperDevice     device.Device
	LowerDevice     device.Device
	GraceValue      float64
	ReconfRatio     float64
	Cooldown        time.Duration
	NoBind          bool
	Sort            SortKey
	Weight          WeightMetric
	Packing         string
	OfflineSites    map[int]SiteInfo
	OfflineMixRatio float64
	RebindAfterHotN int
}

// New builds a Controller, querying both tiers' initial availability
// (spec §4.9: "upper_avail_initial, lower_avail_initial — bytes
// available on each tier at startup"). Avail errors are treated as zero
// availability, which simply starts the controller already contended.
func New(cfg Config) *Controller {
	upperAvail, err := cfg.UpperDevice.Avail()
	if err != nil {
		diag.Warnf("online: initial upper-tier avail query failed: %v", err)
	}
	lowerAvail, err := cfg.LowerDevice.Avail()
	if err != nil {
		diag.Warnf("online: initial lower-tier avail query failed: %v", err)
	}
	return &Controller{
		router:            cfg.Router,
		gate:              NewReconfigureGate(cfg.GraceValue, cfg.ReconfRatio, cfg.Cooldown),
		sort:              cfg.Sort,
		weight:            cfg.Weight,
		sel:               SelectorByName(cfg.Packing),
		nobind:            cfg.NoBind,
		upperDevice:       cfg.UpperDevice,
		lowerDevice:       cfg.LowerDevice,
		upperDL:           []device.Device{cfg.UpperDevice},
		lowerDL:           []device.Device{cfg.LowerDevice},
		upperAvailInitial: upperAvail,
		lowerAvailInitial: lowerAvail,
		prevHotset:        map[int]bool{},
		offlineSites:      cfg.OfflineSites,
		offlineMixRatio:   cfg.OfflineMixRatio,
		siteHotIntervals:  map[int]int{},
		rebindAfterHotN:   cfg.RebindAfterHotN,
	}
}

// Phase reports the controller's current spec §4.10 state.
func (c *Controller) Phase() Phase { return c.gate.Phase() }

// siteMetrics is per-site (value, weight) derived from one interval's
// profile snapshot, keyed by site.
type siteMetrics map[int]SiteInfo

// Tick runs one interval of spec §4.9's algorithm against the latest
// per-site metrics (already folded from profile snapshots by the
// caller, since attributing arena-level profile events back to
// individual sites is specific to the enabled profiler set).
func (c *Controller) Tick(metrics map[int]SiteInfo) {
	// Step 1: query avail on both tiers; latch contention.
	lowerAvail, err := c.lowerDevice.Avail()
	if err != nil {
		diag.WarnfRateLimited("online:avail", 5*time.Second, "online: lower-tier avail query failed: %v", err)
	} else {
		c.checkContention(lowerAvail)
	}

	// Step 2-3: build and blend the site value tree.
	merged := c.blendOffline(metrics)
	sorted := SortSites(toSlice(merged), c.sort)

	// Step 4: hotset selection against the upper tier's initial capacity.
	hotset := c.sel.Select(sorted, float64(c.upperAvailInitial))

	// Step 5: classify enter/exit/stay, accumulate weight/value to rebind.
	var weightToRebind, valueToRebind, totalWeight float64
	entering := map[int]bool{}
	exiting := map[int]bool{}
	for _, s := range sorted {
		totalWeight += s.Weight
		wasHot := c.prevHotset[s.Site]
		isHot := hotset[s.Site]
		if isHot == wasHot {
			continue
		}
		weightToRebind += s.Weight
		valueToRebind += s.Value
		if isHot {
			entering[s.Site] = true
		} else {
			exiting[s.Site] = true
		}
	}

	// Step 6-7: attempt the reconfiguration gate; else honor
	// rebind-after-N-hot-intervals as a fallback. The hot-interval
	// counters include this tick before the fallback reads them.
	c.updateHotStreaks(hotset)
	err = c.gate.Attempt(c.nobind, valueToRebind, weightToRebind, totalWeight, func() error {
		return c.rebind(entering, exiting)
	})
	switch {
	case err == nil:
		c.numReconfigures++
		diag.Infof("online: reconfigure #%d: %d entering, %d exiting", c.numReconfigures, len(entering), len(exiting))
	case err != ErrGateClosed:
		diag.WarnfRateLimited("online:rebind", 5*time.Second, "online: rebind failed: %v", err)
	case c.rebindAfterHotN > 0:
		c.rebindHotStreaks(hotset)
	}

	// Step 8: roll prevHotset forward.
	c.prevHotset = hotset
}

// checkContention latches upper contention and switches the router's
// default device to the lower tier the moment a drop below the
// startup reading is observed, per spec §4.9 step 1: "If lower-avail
// has decreased since startup and upper_contention is not yet set,
// set it and switch the router's default-device to lower."
func (c *Controller) checkContention(lowerAvail uint64) {
	if lowerAvail >= c.lowerAvailInitial || c.Phase() != WarmingUp {
		return
	}
	c.gate.NoteContention()
	c.router.SetDefaultNode(c.lowerDevice.NUMAID)
	diag.Infof("online: upper contention detected, entering ACTIVE phase")
}

func (c *Controller) blendOffline(metrics map[int]SiteInfo) siteMetrics {
	merged := make(siteMetrics, len(metrics))
	for site, m := range metrics {
		if off, ok := c.offlineSites[site]; ok && c.offlineMixRatio > 0 {
			merged[site] = SiteInfo{
				Site:   site,
				Value:  m.Value*(1-c.offlineMixRatio) + off.Value*c.offlineMixRatio,
				Weight: m.Weight*(1-c.offlineMixRatio) + off.Weight*c.offlineMixRatio,
			}
			continue
		}
		merged[site] = m
	}
	return merged
}

func toSlice(m siteMetrics) []SiteInfo {
	out := make([]SiteInfo, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func (c *Controller) rebind(entering, exiting map[int]bool) error {
	var firstErr error
	for site := range entering {
		if a, ok := c.router.ArenaForSite(site); ok {
			if err := a.SetDevices(c.upperDL, false); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	for site := range exiting {
		if a, ok := c.router.ArenaForSite(site); ok {
			if err := a.SetDevices(c.lowerDL, false); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (c *Controller) updateHotStreaks(hotset map[int]bool) {
	for site := range c.siteHotIntervals {
		if !hotset[site] {
			c.siteHotIntervals[site] = 0
		}
	}
	for site, hot := range hotset {
		if hot {
			c.siteHotIntervals[site]++
		}
	}
}

// rebindHotStreaks implements spec §4.9 step 7's fallback: rebind only
// sites whose consecutive-hot-interval counter hits the configured
// threshold this tick, used when the gate itself stays closed.
func (c *Controller) rebindHotStreaks(hotset map[int]bool) {
	for site, n := range c.siteHotIntervals {
		if n != c.rebindAfterHotN || !hotset[site] {
			continue
		}
		if a, ok := c.router.ArenaForSite(site); ok {
			if err := a.SetDevices(c.upperDL, false); err != nil {
				diag.WarnfRateLimited("online:hotstreak", 5*time.Second, "online: hot-streak rebind for site %d failed: %v", site, err)
			}
		}
	}
}
