package online

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortSitesByValuePerWeight(t *testing.T) {
	sites := []SiteInfo{
		{Site: 1, Value: 10, Weight: 10}, // 1.0
		{Site: 2, Value: 30, Weight: 10}, // 3.0
		{Site: 3, Value: 10, Weight: 5},  // 2.0
	}
	sorted := SortSites(sites, SortByValuePerWeight)
	require.Len(t, sorted, 3)
	assert.Equal(t, 2, sorted[0].Site)
	assert.Equal(t, 3, sorted[1].Site)
	assert.Equal(t, 1, sorted[2].Site)
}

func TestSortSitesByWeight(t *testing.T) {
	sites := []SiteInfo{
		{Site: 1, Weight: 5},
		{Site: 2, Weight: 50},
		{Site: 3, Weight: 20},
	}
	sorted := SortSites(sites, SortByWeight)
	assert.Equal(t, []int{2, 3, 1}, []int{sorted[0].Site, sorted[1].Site, sorted[2].Site})
}

func TestGreedyKnapsackIncludesOneSiteOverflow(t *testing.T) {
	sites := []SiteInfo{
		{Site: 1, Value: 30, Weight: 40},
		{Site: 2, Value: 20, Weight: 40},
		{Site: 3, Value: 10, Weight: 40},
	}
	hotset := GreedyKnapsack{}.Select(sites, 50)
	assert.True(t, hotset[1])
	assert.True(t, hotset[2])
	assert.False(t, hotset[3])
}

func TestGreedyKnapsackEmptyCapacityStillTakesFirst(t *testing.T) {
	sites := []SiteInfo{{Site: 1, Value: 5, Weight: 10}}
	hotset := GreedyKnapsack{}.Select(sites, 0)
	assert.True(t, hotset[1], "overflow site should still be included at zero capacity")
}

func TestProportionalNeverStarvesHighValueSite(t *testing.T) {
	sites := []SiteInfo{
		{Site: 1, Value: 100, Weight: 10},
		{Site: 2, Value: 1, Weight: 1000},
	}
	hotset := Proportional{}.Select(sites, 50)
	assert.True(t, hotset[1])
	assert.False(t, hotset[2])
}

func TestProportionalZeroTotalValueYieldsEmptyHotset(t *testing.T) {
	sites := []SiteInfo{{Site: 1, Value: 0, Weight: 10}}
	hotset := Proportional{}.Select(sites, 50)
	assert.Empty(t, hotset)
}

func TestSelectorByNameDefaultsToGreedy(t *testing.T) {
	_, ok := SelectorByName("").(GreedyKnapsack)
	assert.True(t, ok, "expected GreedyKnapsack default")
	_, ok = SelectorByName("bogus").(GreedyKnapsack)
	assert.True(t, ok, "expected GreedyKnapsack fallback for unknown name")
	_, ok = SelectorByName("proportional").(Proportional)
	assert.True(t, ok, "expected Proportional for 'proportional'")
}

func TestReconfigureGateClosedBeforeContention(t *testing.T) {
	g := NewReconfigureGate(10, 0.1, time.Minute)
	err := g.Attempt(false, 100, 50, 100, func() error { return nil })
	assert.ErrorIs(t, err, ErrGateClosed)
	assert.Equal(t, WarmingUp, g.Phase())
}

func TestReconfigureGateNobindAlwaysCloses(t *testing.T) {
	g := NewReconfigureGate(0, 0, time.Minute)
	g.NoteContention()
	err := g.Attempt(true, 1000, 1000, 1000, func() error { return nil })
	assert.ErrorIs(t, err, ErrGateClosed)
}

func TestReconfigureGateGraceValueBlocksLowValueRebind(t *testing.T) {
	g := NewReconfigureGate(100, 0, time.Minute)
	g.NoteContention()
	err := g.Attempt(false, 10, 50, 100, func() error { return nil })
	assert.ErrorIs(t, err, ErrGateClosed)
}

func TestReconfigureGateReconfRatioBlocksSmallRebind(t *testing.T) {
	g := NewReconfigureGate(0, 0.5, time.Minute)
	g.NoteContention()
	err := g.Attempt(false, 1000, 10, 100, func() error { return nil })
	assert.ErrorIs(t, err, ErrGateClosed)
}

func TestReconfigureGateAllowsQualifyingRebind(t *testing.T) {
	g := NewReconfigureGate(0, 0, time.Minute)
	g.NoteContention()
	ran := false
	err := g.Attempt(false, 100, 50, 100, func() error { ran = true; return nil })
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, ActiveUpper, g.Phase(), "the rebind already completed by the time Attempt returns")
}

func TestReconfigureGatePhaseIsActiveRebindWhileMigrationRuns(t *testing.T) {
	g := NewReconfigureGate(0, 0, time.Minute)
	g.NoteContention()
	var observed Phase
	err := g.Attempt(false, 100, 50, 100, func() error {
		observed = g.Phase()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, ActiveRebind, observed, "phase must read ACTIVE_REBIND only while the migration callback is executing")
	assert.Equal(t, ActiveUpper, g.Phase(), "phase returns to ACTIVE_UPPER once the migration completes")
}

func TestReconfigureGateAllowsBackToBackRebinds(t *testing.T) {
	g := NewReconfigureGate(0, 0, time.Minute)
	g.NoteContention()
	for i := 0; i < 3; i++ {
		err := g.Attempt(false, 100, 50, 100, func() error { return nil })
		require.NoErrorf(t, err, "attempt %d", i)
	}
	assert.Equal(t, ActiveUpper, g.Phase(), "phase rests at ACTIVE_UPPER after back-to-back rebinds")
}
