package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMultipliersPairsEventsByIndex(t *testing.T) {
	m, err := BuildMultipliers([]string{"cache-misses", "dtlb-misses"}, []float64{2.5, 0.5})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"cache-misses": 2.5, "dtlb-misses": 0.5}, m)
}

func TestBuildMultipliersEmptyListYieldsEmptyMap(t *testing.T) {
	m, err := BuildMultipliers([]string{"cache-misses"}, nil)
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestBuildMultipliersLengthMismatchErrors(t *testing.T) {
	_, err := BuildMultipliers([]string{"cache-misses", "dtlb-misses"}, []float64{2.5})
	assert.Error(t, err)
}

func TestAccessSampleProfilerWeightForPrecedence(t *testing.T) {
	p := &AccessSampleProfiler{
		staticMultipliers: map[string]float64{"cache-misses": 2.0},
		uniformMultiplier: 1,
	}
	assert.Equal(t, 2.0, p.weightFor("cache-misses"))
	assert.Equal(t, float64(1), p.weightFor("dtlb-misses"))

	p.SetUniformMultiplier(4.0)
	assert.Equal(t, 4.0, p.weightFor("cache-misses"), "uniform override wins over the static per-event value")
	assert.Equal(t, 4.0, p.weightFor("dtlb-misses"))

	p.SetUniformMultiplier(1)
	assert.Equal(t, 2.0, p.weightFor("cache-misses"), "resetting the uniform override back to 1 restores the static weight")
}
