package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLayoutDefaultsToSharedSite(t *testing.T) {
	l, err := ParseLayout("")
	require.NoError(t, err)
	assert.Equal(t, SharedSiteArenas, l)
}

func TestParseLayoutRejectsUnknown(t *testing.T) {
	_, err := ParseLayout("NOT_A_LAYOUT")
	assert.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("SH_ARENA_LAYOUT", "")
	t.Setenv("SH_MAX_ARENAS", "")
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, SharedSiteArenas, c.ArenaLayout)
	assert.Equal(t, defaultMaxArenas, c.MaxArenas)
	assert.Equal(t, 64, c.MaxSitesPerArena)
}

func TestLoadRejectsMaxArenasAboveHardCap(t *testing.T) {
	t.Setenv("SH_MAX_ARENAS", "5000")
	_, err := Load()
	assert.Error(t, err)
}

func TestParseGuidanceSingleSection(t *testing.T) {
	text := `
# comment
===== GUIDANCE
1 0
2 1
===== END
`
	g, err := ParseGuidance(strings.NewReader(text))
	require.NoError(t, err)
	n, ok := g.NodeFor(1)
	require.True(t, ok)
	assert.Equal(t, 0, n)
	n, ok = g.NodeFor(2)
	require.True(t, ok)
	assert.Equal(t, 1, n)
}

func TestParseGuidanceMultipleSections(t *testing.T) {
	text := `
===== GUIDANCE
1 0
===== END
some other text outside a section
3 9
===== GUIDANCE
2 1
===== END
`
	g, err := ParseGuidance(strings.NewReader(text))
	require.NoError(t, err)
	assert.Len(t, g.SiteNode, 2)
	n, ok := g.NodeFor(2)
	require.True(t, ok)
	assert.Equal(t, 1, n)
}

func TestParseGuidanceRejectsMalformedLine(t *testing.T) {
	text := `
===== GUIDANCE
not-a-pair
===== END
`
	_, err := ParseGuidance(strings.NewReader(text))
	assert.Error(t, err)
}
