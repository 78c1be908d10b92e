package profile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanl/sicm-go/config"
	"github.com/lanl/sicm-go/device"
	"github.com/lanl/sicm-go/extent"
	"github.com/lanl/sicm-go/router"
)

func testRouter(t *testing.T) (*router.Router, extent.ArenaID) {
	t.Helper()
	cfg := config.Config{ArenaLayout: config.OneArena, MaxArenas: 10, MaxSitesPerArena: 10, DefaultNode: 0}
	devices := device.List{Devices: []device.Device{{Tag: device.DRAM, NUMAID: 0, PageKB: 4, Compute: 0}}}
	r := router.New(cfg, config.Guidance{SiteNode: map[int]int{}}, devices)

	a, err := r.Resolve(nil, 1, 64)
	require.NoError(t, err)
	return r, a.Index
}

func TestExtentSizeProfilerSumsRegistry(t *testing.T) {
	r, id := testRouter(t)
	a, ok := r.Tracker().Get(id)
	require.True(t, ok)
	a.Registry().Insert(0x1000, 0x2000, id)
	a.Registry().Insert(0x2000, 0x3000, id)

	p := NewExtentSizeProfiler(0)
	profiles := map[extent.ArenaID]*ArenaProfile{id: newArenaProfile(id)}
	require.NoError(t, p.RunInterval(context.Background(), r, profiles))

	rec := profiles[id].record("extent_size", "bytes")
	assert.Equal(t, uint64(0x2000), rec.Total)
}

func TestAllocsProfilerCopiesArenaSize(t *testing.T) {
	r, id := testRouter(t)
	p := NewAllocsProfiler(0)
	profiles := map[extent.ArenaID]*ArenaProfile{id: newArenaProfile(id)}
	require.NoError(t, p.RunInterval(context.Background(), r, profiles))

	rec := profiles[id].record("allocs", "bytes")
	assert.Equal(t, uint64(0), rec.Total)
}

func TestExtentSizeProfilerSkipIntervalCarriesForward(t *testing.T) {
	p := NewExtentSizeProfiler(1)
	profiles := map[extent.ArenaID]*ArenaProfile{1: newArenaProfile(1)}
	profiles[1].record("extent_size", "bytes").fold(42)
	p.SkipInterval(profiles)

	rec := profiles[1].record("extent_size", "bytes")
	assert.Equal(t, []uint64{42, 42}, rec.Intervals)
}
