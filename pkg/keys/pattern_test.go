package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternToRegexpAnchoring(t *testing.T) {
	// Bare pattern: anchored on both ends.
	assert.Equal(t, "^system\\.adapter$", PatternToRegexp("system.adapter"))
	// Leading wildcard: only the end is anchored.
	assert.Equal(t, ".*\\.state$", PatternToRegexp("*.state"))
	// Trailing wildcard: only the start is anchored.
	assert.Equal(t, "^system\\..*", PatternToRegexp("system.*"))
	// Lone wildcard matches everything.
	assert.Equal(t, ".*", PatternToRegexp("*"))
}

func TestPatternToRegexpEscapesMetacharacters(t *testing.T) {
	assert.Equal(t, "^a\\$b\\^c\\?d\\.e\\(f\\)g\\[h\\]i$", PatternToRegexp("a$b^c?d.e(f)g[h]i"))
}

func TestMatcher(t *testing.T) {
	m, err := CompileMatcher("system.adapter.*")
	require.NoError(t, err)

	assert.True(t, m.Match("system.adapter.web.0"))
	assert.True(t, m.Match("system.adapter."))
	assert.False(t, m.Match("system.host.linux"))
	assert.False(t, m.Match("prefix.system.adapter.web"))
	assert.Equal(t, "system.adapter.*", m.Pattern())
}

func TestMatcherMiddleWildcard(t *testing.T) {
	m, err := CompileMatcher("system.*.alive")
	require.NoError(t, err)

	assert.True(t, m.Match("system.adapter.web.0.alive"))
	assert.False(t, m.Match("system.adapter.web.0.connected"))
}
