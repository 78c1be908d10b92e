package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanl/sicm-go/device"
	"github.com/lanl/sicm-go/extent"
)

func dramDevice(node int) device.Device {
	return device.Device{Tag: device.DRAM, NUMAID: node, PageKB: 4, Compute: node}
}

func TestNewRejectsEmptyDevices(t *testing.T) {
	_, err := New(0, Config{Devices: nil})
	require.Error(t, err)
}

func TestNewRejectsMixedPageSizes(t *testing.T) {
	d1 := dramDevice(0)
	d2 := dramDevice(0)
	d2.PageKB = 2048
	_, err := New(0, Config{Devices: []device.Device{d1, d2}})
	require.Error(t, err)
}

func TestNewDefaultsToAnonymousBacking(t *testing.T) {
	a, err := New(0, Config{Devices: []device.Device{dramDevice(0)}})
	require.NoError(t, err)
	assert.True(t, a.backing.Anonymous)
	assert.Equal(t, uintptr(0), a.Size())
	assert.Equal(t, 4, a.PageSize())
}

func TestNewWithoutRegistryGetsAPrivateOne(t *testing.T) {
	a1, err := New(0, Config{Devices: []device.Device{dramDevice(0)}})
	require.NoError(t, err)
	a2, err := New(1, Config{Devices: []device.Device{dramDevice(0)}})
	require.NoError(t, err)
	assert.NotSame(t, a1.Registry(), a2.Registry())
}

func TestTrackerArenasShareOneRegistry(t *testing.T) {
	tr := NewTracker()
	a0, err := tr.Create(Config{Devices: []device.Device{dramDevice(0)}})
	require.NoError(t, err)
	a1, err := tr.Create(Config{Devices: []device.Device{dramDevice(0)}})
	require.NoError(t, err)

	assert.Same(t, tr.Registry(), a0.Registry())
	assert.Same(t, a0.Registry(), a1.Registry())
}

func TestTrackerCreateAssignsSequentialIndices(t *testing.T) {
	tr := NewTracker()
	a0, err := tr.Create(Config{Devices: []device.Device{dramDevice(0)}})
	require.NoError(t, err)
	a1, err := tr.Create(Config{Devices: []device.Device{dramDevice(0)}})
	require.NoError(t, err)

	assert.Equal(t, a0.Index+1, a1.Index)

	got, ok := tr.Get(a0.Index)
	require.True(t, ok)
	assert.Same(t, a0, got)
}

func TestTrackerDestroyRemovesFromList(t *testing.T) {
	tr := NewTracker()
	a, err := tr.Create(Config{Devices: []device.Device{dramDevice(0)}})
	require.NoError(t, err)

	require.NoError(t, tr.Destroy(a.Index))
	_, ok := tr.Get(a.Index)
	assert.False(t, ok, "destroyed arena must be removed from the tracker")
	assert.True(t, a.IsDestroyed())
}

func TestTrackerDestroyUnknownArena(t *testing.T) {
	tr := NewTracker()
	err := tr.Destroy(extent.ArenaID(99))
	assert.Error(t, err)
}

func TestAlignUp(t *testing.T) {
	assert.Equal(t, uintptr(0), alignUp(0, 4096))
	assert.Equal(t, uintptr(4096), alignUp(1, 4096))
	assert.Equal(t, uintptr(4096), alignUp(4096, 4096))
	assert.Equal(t, uintptr(8192), alignUp(4097, 4096))
	assert.Equal(t, uintptr(7), alignUp(7, 0))
}
