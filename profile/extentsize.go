package profile

import (
	"context"

	"github.com/lanl/sicm-go/extent"
	"github.com/lanl/sicm-go/router"
)

// ExtentSizeProfiler implements spec §4.7's extent-size profiler: per
// interval, scan the extent registry summing end-start into the owning
// arena's accumulator. No OS calls required.
type ExtentSizeProfiler struct {
	skipEvery int
}

// NewExtentSizeProfiler builds an extent-size profiler that runs every
// skipEvery+1 ticks (0 = every tick).
func NewExtentSizeProfiler(skipEvery int) *ExtentSizeProfiler {
	return &ExtentSizeProfiler{skipEvery: skipEvery}
}

func (p *ExtentSizeProfiler) Name() string    { return "extent_size" }
func (p *ExtentSizeProfiler) SkipEvery() int  { return p.skipEvery }
func (p *ExtentSizeProfiler) Close() error    { return nil }

func (p *ExtentSizeProfiler) RunInterval(ctx context.Context, r *router.Router, profiles map[extent.ArenaID]*ArenaProfile) error {
	for id, ap := range profiles {
		a, ok := r.Tracker().Get(id)
		if !ok {
			continue
		}
		var total uint64
		a.Registry().ScanArena(id, func(s extent.Slot) {
			total += uint64(s.End - s.Start)
		})
		ap.record("extent_size", "bytes").fold(total)
	}
	return nil
}

func (p *ExtentSizeProfiler) SkipInterval(profiles map[extent.ArenaID]*ArenaProfile) {
	for _, ap := range profiles {
		ap.record("extent_size", "bytes").skip()
	}
}
