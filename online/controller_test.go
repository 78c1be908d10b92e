package online

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lanl/sicm-go/config"
	"github.com/lanl/sicm-go/device"
	"github.com/lanl/sicm-go/router"
)

func testController(t *testing.T) (*Controller, *router.Router) {
	t.Helper()
	upper := device.Device{Tag: device.DRAM, NUMAID: 0, PageKB: 4, Compute: 0}
	lower := device.Device{Tag: device.DRAM, NUMAID: 1, PageKB: 4, Compute: 1}

	cfg := config.Config{ArenaLayout: config.SharedSiteArenas, MaxArenas: 10, MaxSitesPerArena: 10, DefaultNode: upper.NUMAID}
	devices := device.List{Devices: []device.Device{upper, lower}}
	r := router.New(cfg, config.Guidance{SiteNode: map[int]int{}}, devices)

	c := New(Config{
		Router:      r,
		UpperDevice: upper,
		LowerDevice: lower,
		GraceValue:  0,
		ReconfRatio: 0,
		Cooldown:    time.Minute,
		Sort:        SortByValuePerWeight,
		Packing:     "knapsack",
	})
	return c, r
}

func TestControllerStaysWarmingUpWithoutContention(t *testing.T) {
	c, r := testController(t)
	_, err := r.Resolve(nil, 1, 64)
	require.NoError(t, err)

	c.Tick(map[int]SiteInfo{1: {Site: 1, Value: 100, Weight: 10}})
	require.Equal(t, WarmingUp, c.Phase())
}

func TestControllerRebindsEnteringSiteOnceContended(t *testing.T) {
	c, r := testController(t)
	_, err := r.Resolve(nil, 1, 64)
	require.NoError(t, err)

	c.gate.NoteContention()
	c.Tick(map[int]SiteInfo{1: {Site: 1, Value: 100, Weight: 10}})

	require.Equal(t, ActiveUpper, c.Phase())
	require.Equal(t, 1, c.numReconfigures)
}

func TestControllerSwitchesRouterDefaultNodeOnContention(t *testing.T) {
	c, r := testController(t)
	c.lowerAvailInitial = 1000

	a1, err := r.Resolve(nil, 1, 64)
	require.NoError(t, err)
	require.Equal(t, 0, a1.Devices()[0].NUMAID, "default node is still the upper tier before contention")

	c.checkContention(500) // below lowerAvailInitial: latches contention
	require.Equal(t, ActiveUpper, c.Phase())

	a2, err := r.Resolve(nil, 2, 64)
	require.NoError(t, err)
	require.Equal(t, 1, a2.Devices()[0].NUMAID, "default node switches to the lower tier once contention latches")
}

func TestCheckContentionIsOneWay(t *testing.T) {
	c, r := testController(t)
	c.lowerAvailInitial = 1000

	c.checkContention(500)
	require.Equal(t, ActiveUpper, c.Phase())

	r.SetDefaultNode(0) // simulate something else resetting it
	c.checkContention(2000) // avail recovered, but contention must not un-latch or re-switch
	a, err := r.Resolve(nil, 1, 64)
	require.NoError(t, err)
	require.Equal(t, 0, a.Devices()[0].NUMAID)
}

func TestControllerBlendsOfflineMetrics(t *testing.T) {
	c, _ := testController(t)
	c.offlineSites = map[int]SiteInfo{1: {Site: 1, Value: 0, Weight: 0}}
	c.offlineMixRatio = 0.5

	merged := c.blendOffline(map[int]SiteInfo{1: {Site: 1, Value: 100, Weight: 20}})
	require.InDelta(t, 50, merged[1].Value, 0.001)
	require.InDelta(t, 10, merged[1].Weight, 0.001)
}
