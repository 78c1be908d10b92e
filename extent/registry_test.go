package extent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryInsertFind(t *testing.T) {
	r := New()
	r.Insert(0x1000, 0x2000, ArenaID(1))
	r.Insert(0x2000, 0x3000, ArenaID(2))

	slot, ok := r.Find(0x1500)
	require.True(t, ok)
	assert.Equal(t, ArenaID(1), slot.Arena)

	slot, ok = r.Find(0x2500)
	require.True(t, ok)
	assert.Equal(t, ArenaID(2), slot.Arena)

	_, ok = r.Find(0x3500)
	assert.False(t, ok)
}

func TestRegistryDeleteTombstones(t *testing.T) {
	r := New()
	r.Insert(0x1000, 0x2000, ArenaID(1))
	require.True(t, r.Delete(0x1000, 0x2000))
	assert.Equal(t, 1, r.Len(), "slot should be tombstoned, not removed")
	assert.Equal(t, 0, r.LiveCount())

	// Reinsert should reuse the tombstoned slot.
	r.Insert(0x5000, 0x6000, ArenaID(3))
	assert.Equal(t, 1, r.Len())
}

func TestRegistryArenaSize(t *testing.T) {
	r := New()
	r.Insert(0x1000, 0x2000, ArenaID(1)) // 0x1000
	r.Insert(0x2000, 0x4000, ArenaID(1)) // 0x2000
	r.Insert(0x4000, 0x5000, ArenaID(2)) // 0x1000

	assert.Equal(t, uintptr(0x3000), r.ArenaSize(ArenaID(1)))
	assert.Equal(t, uintptr(0x1000), r.ArenaSize(ArenaID(2)))
}

func TestRegistryReplaceSplit(t *testing.T) {
	r := New()
	r.Insert(0x1000, 0x4000, ArenaID(1))

	ok := r.ReplaceSplit(0x1000, 0x4000, []Slot{
		{Live: true, Start: 0x1000, End: 0x2000, Arena: 1},
		{Live: true, Start: 0x3000, End: 0x4000, Arena: 1},
	})
	require.True(t, ok)

	_, found1 := r.Find(0x1500)
	_, found2 := r.Find(0x2500)
	_, found3 := r.Find(0x3500)
	assert.True(t, found1)
	assert.False(t, found2, "middle region should be gone")
	assert.True(t, found3)
}

func TestRegistryScanHoldsConsistentView(t *testing.T) {
	r := New()
	for i := 0; i < 10; i++ {
		r.Insert(uintptr(i*0x1000), uintptr((i+1)*0x1000), ArenaID(1))
	}
	count := 0
	r.Scan(func(s Slot) { count++ })
	assert.Equal(t, 10, count)
}
