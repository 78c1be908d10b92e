package profile

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanl/sicm-go/extent"
)

func TestWriteReadProfileRoundTrip(t *testing.T) {
	run := NewRun([]Snapshot{
		{
			Arena:         extent.ArenaID(0),
			FirstInterval: 2,
			NumIntervals:  3,
			Sites:         []int{1, 2},
			Events: map[string]map[string]EventRecord{
				"rss": {
					"bytes": {Total: 300, Peak: 150, Intervals: []uint64{100, 150, 50}},
				},
			},
		},
	})

	var buf bytes.Buffer
	require.NoError(t, WriteProfile(&buf, run))

	parsed, err := ReadProfile(&buf)
	require.NoError(t, err)
	assert.Equal(t, run.ID, parsed.ID)
	require.Len(t, parsed.Snapshots, 1)

	got := parsed.Snapshots[0]
	assert.Equal(t, extent.ArenaID(0), got.Arena)
	assert.Equal(t, []int{1, 2}, got.Sites)
	assert.Equal(t, 2, got.FirstInterval)
	assert.Equal(t, 3, got.NumIntervals)

	rec := got.Events["rss"]["bytes"]
	assert.Equal(t, uint64(300), rec.Total)
	assert.Equal(t, uint64(150), rec.Peak)
	assert.Equal(t, []uint64{100, 150, 50}, rec.Intervals)
}
