package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanl/sicm-go/config"
	"github.com/lanl/sicm-go/device"
)

func testDevices() device.List {
	return device.List{Devices: []device.Device{
		{Tag: device.DRAM, NUMAID: 0, PageKB: 4, Compute: 0},
		{Tag: device.KnlHBM, NUMAID: 1, PageKB: 4, Compute: 0},
	}}
}

func TestResolveOneArenaSharesSingleIndex(t *testing.T) {
	cfg := config.Config{ArenaLayout: config.OneArena, MaxArenas: 10, MaxSitesPerArena: 10, DefaultNode: 0}
	r := New(cfg, config.Guidance{SiteNode: map[int]int{}}, testDevices())

	a1, err := r.Resolve(nil, 1, 64)
	require.NoError(t, err)
	a2, err := r.Resolve(nil, 2, 64)
	require.NoError(t, err)
	assert.Equal(t, a1.Index, a2.Index)
}

func TestResolveSharedSiteOnePerSite(t *testing.T) {
	cfg := config.Config{ArenaLayout: config.SharedSiteArenas, MaxArenas: 10, MaxSitesPerArena: 10, DefaultNode: 0}
	r := New(cfg, config.Guidance{SiteNode: map[int]int{}}, testDevices())

	a1, err := r.Resolve(nil, 1, 64)
	require.NoError(t, err)
	a2, err := r.Resolve(nil, 2, 64)
	require.NoError(t, err)
	assert.NotEqual(t, a1.Index, a2.Index)

	a1again, err := r.Resolve(nil, 1, 64)
	require.NoError(t, err)
	assert.Equal(t, a1.Index, a1again.Index)
}

func TestResolveExclusiveArenasRequiresContext(t *testing.T) {
	cfg := config.Config{ArenaLayout: config.ExclusiveArenas, MaxArenas: 10, MaxSitesPerArena: 10, DefaultNode: 0}
	r := New(cfg, config.Guidance{SiteNode: map[int]int{}}, testDevices())
	_, err := r.Resolve(nil, 1, 64)
	assert.Error(t, err)
}

func TestResolveExclusiveArenasOnePerThread(t *testing.T) {
	cfg := config.Config{ArenaLayout: config.ExclusiveArenas, MaxArenas: 10, MaxSitesPerArena: 10, DefaultNode: 0}
	r := New(cfg, config.Guidance{SiteNode: map[int]int{}}, testDevices())

	ctx, err := NewContext()
	require.NoError(t, err)

	a1, err := r.Resolve(ctx, 1, 64)
	require.NoError(t, err)
	a2, err := r.Resolve(ctx, 2, 64)
	require.NoError(t, err)
	assert.Equal(t, a1.Index, a2.Index, "one thread shares one arena across sites")

	ctx2, err := NewContext()
	require.NoError(t, err)
	a3, err := r.Resolve(ctx2, 1, 64)
	require.NoError(t, err)
	assert.NotEqual(t, a1.Index, a3.Index, "different threads get different arenas")
}

func TestResolveBigSmallRoutesByThreshold(t *testing.T) {
	cfg := config.Config{
		ArenaLayout:       config.BigSmallArenas,
		BigSmallThreshold: 1024,
		MaxArenas:         10,
		MaxSitesPerArena:  10,
		DefaultNode:       0,
	}
	r := New(cfg, config.Guidance{SiteNode: map[int]int{}}, testDevices())
	ctx, err := NewContext()
	require.NoError(t, err)

	small, err := r.Resolve(ctx, 1, 64)
	require.NoError(t, err)
	big, err := r.Resolve(ctx, 1, 4096)
	require.NoError(t, err)
	assert.NotEqual(t, small.Index, big.Index)
}

func TestMaxSitesPerArenaEnforced(t *testing.T) {
	cfg := config.Config{ArenaLayout: config.OneArena, MaxArenas: 10, MaxSitesPerArena: 1, DefaultNode: 0}
	r := New(cfg, config.Guidance{SiteNode: map[int]int{}}, testDevices())

	_, err := r.Resolve(nil, 1, 64)
	require.NoError(t, err)
	_, err = r.Resolve(nil, 2, 64)
	assert.ErrorIs(t, err, ErrTooManySites)
}

func TestGuidanceSelectsDevice(t *testing.T) {
	cfg := config.Config{ArenaLayout: config.SharedSiteArenas, MaxArenas: 10, MaxSitesPerArena: 10, DefaultNode: 0}
	guidance := config.Guidance{SiteNode: map[int]int{7: 1}}
	r := New(cfg, guidance, testDevices())

	a, err := r.Resolve(nil, 7, 64)
	require.NoError(t, err)
	devs := a.Devices()
	require.Len(t, devs, 1)
	assert.Equal(t, 1, devs[0].NUMAID)
}

func TestIsolationOverridesGuidance(t *testing.T) {
	cfg := config.Config{ArenaLayout: config.SharedSiteArenas, MaxArenas: 10, MaxSitesPerArena: 10, DefaultNode: 0}
	guidance := config.Guidance{SiteNode: map[int]int{7: 1}}
	r := New(cfg, guidance, testDevices())
	r.SetIsolation(7, testDevices().Devices[0])

	a, err := r.Resolve(nil, 7, 64)
	require.NoError(t, err)
	devs := a.Devices()
	require.Len(t, devs, 1)
	assert.Equal(t, 0, devs[0].NUMAID)
}

func TestResolveFallsBackToDefaultArenaWhenNoDevice(t *testing.T) {
	cfg := config.Config{ArenaLayout: config.SharedSiteArenas, MaxArenas: 10, MaxSitesPerArena: 10, DefaultNode: 99}
	r := New(cfg, config.Guidance{SiteNode: map[int]int{}}, testDevices())

	_, err := r.Resolve(nil, 1, 64)
	require.ErrorIs(t, err, ErrNoDevice)

	def, err := r.createArena(0, testDevices().Devices[0])
	require.NoError(t, err)
	r.SetDefaultArena(def.Index)

	a, err := r.Resolve(nil, 2, 64)
	require.NoError(t, err)
	assert.Equal(t, def.Index, a.Index)
}

func TestSetDefaultNodeRedirectsFreshSitesWithoutGuidance(t *testing.T) {
	cfg := config.Config{ArenaLayout: config.SharedSiteArenas, MaxArenas: 10, MaxSitesPerArena: 10, DefaultNode: 0}
	r := New(cfg, config.Guidance{SiteNode: map[int]int{}}, testDevices())

	a1, err := r.Resolve(nil, 1, 64)
	require.NoError(t, err)
	assert.Equal(t, 0, a1.Devices()[0].NUMAID)

	r.SetDefaultNode(1)

	a2, err := r.Resolve(nil, 2, 64)
	require.NoError(t, err)
	assert.Equal(t, 1, a2.Devices()[0].NUMAID)
}
