package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanl/sicm-go/device"
)

func TestAllocZeroSizeReturnsUniquePointerWithoutExtent(t *testing.T) {
	a, err := New(0, Config{Devices: []device.Device{dramDevice(0)}})
	require.NoError(t, err)

	p1, zero, commit, err := a.Alloc(0, 0)
	require.NoError(t, err)
	assert.False(t, zero)
	assert.False(t, commit)
	require.NotNil(t, p1)

	p2, _, _, err := a.Alloc(0, 0)
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2, "every zero-size alloc gets its own unique pointer")

	assert.Equal(t, uintptr(0), a.Size(), "a zero-size alloc never inserts an extent or grows a.size")
}

func TestDallocZeroSizeIsNoop(t *testing.T) {
	a, err := New(0, Config{Devices: []device.Device{dramDevice(0)}})
	require.NoError(t, err)

	p, _, _, err := a.Alloc(0, 0)
	require.NoError(t, err)

	// No extent backs p, so a non-zero-size Dalloc would fail to find one;
	// size 0 must short-circuit before that lookup.
	assert.NoError(t, a.Dalloc(p, 0))
}

func hugeDevice(node int) device.Device {
	d := dramDevice(node)
	d.PageKB = 2048
	return d
}

func TestHugePageUnmapLenPassthroughForBasePages(t *testing.T) {
	a, err := New(0, Config{Devices: []device.Device{dramDevice(0)}})
	require.NoError(t, err)
	assert.Equal(t, uintptr(12345), a.hugePageUnmapLen(12345))
}

func TestHugePageUnmapLenRoundsUpForHugeDevices(t *testing.T) {
	a, err := New(0, Config{Devices: []device.Device{hugeDevice(0)}})
	require.NoError(t, err)

	hugeBytes := uintptr(2048 * 1024)
	assert.Equal(t, hugeBytes, a.hugePageUnmapLen(1), "any nonzero length rounds up to one full huge page")
	assert.Equal(t, hugeBytes, a.hugePageUnmapLen(hugeBytes), "an already-aligned length is unchanged")
	assert.Equal(t, 2*hugeBytes, a.hugePageUnmapLen(hugeBytes+1))
}
