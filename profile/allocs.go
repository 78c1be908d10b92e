package profile

import (
	"context"

	"github.com/lanl/sicm-go/extent"
	"github.com/lanl/sicm-go/router"
)

// AllocsProfiler implements spec §4.7's allocs-size profiler: per
// interval, copy each arena's live size attribute (maintained by the
// arena's own Alloc/Dalloc extent hooks) into the accumulator.
type AllocsProfiler struct {
	skipEvery int
}

func NewAllocsProfiler(skipEvery int) *AllocsProfiler {
	return &AllocsProfiler{skipEvery: skipEvery}
}

func (p *AllocsProfiler) Name() string   { return "allocs" }
func (p *AllocsProfiler) SkipEvery() int { return p.skipEvery }
func (p *AllocsProfiler) Close() error   { return nil }

func (p *AllocsProfiler) RunInterval(ctx context.Context, r *router.Router, profiles map[extent.ArenaID]*ArenaProfile) error {
	for id, ap := range profiles {
		a, ok := r.Tracker().Get(id)
		if !ok {
			continue
		}
		ap.record("allocs", "bytes").fold(uint64(a.Size()))
	}
	return nil
}

func (p *AllocsProfiler) SkipInterval(profiles map[extent.ArenaID]*ArenaProfile) {
	for _, ap := range profiles {
		ap.record("allocs", "bytes").skip()
	}
}
