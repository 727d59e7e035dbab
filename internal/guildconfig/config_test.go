package guildconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeKeepsSiblingDefaults(t *testing.T) {
	defaults := map[string]any{"a": map[string]any{"b": 0, "c": 2}}
	override := map[string]any{"a": map[string]any{"b": 1}}

	merged := Merge(defaults, override)

	assert.Equal(t, map[string]any{"a": map[string]any{"b": 1, "c": 2}}, merged)
	assert.Equal(t, map[string]any{"a": map[string]any{"b": 0, "c": 2}}, defaults, "defaults must not be mutated")
}

func TestMergeOverrideWinsOnTypeMismatch(t *testing.T) {
	defaults := map[string]any{
		"a": map[string]any{"b": map[string]any{"c": 1, "d": 2}},
		"e": "scalar",
		"f": map[string]any{"g": true},
	}
	override := map[string]any{
		"a": map[string]any{"b": map[string]any{"c": 5}},
		"e": map[string]any{"now": "object"},
		"f": false,
		"h": []any{"x"},
	}

	merged := Merge(defaults, override)

	assert.Equal(t, map[string]any{"c": 5, "d": 2}, merged["a"].(map[string]any)["b"])
	assert.Equal(t, map[string]any{"now": "object"}, merged["e"])
	assert.Equal(t, false, merged["f"])
	assert.Equal(t, []any{"x"}, merged["h"])
}

func TestIsWhitelisted(t *testing.T) {
	cfg := Default()
	cfg.Whitelist.Users = []string{"42"}
	cfg.Whitelist.Roles = []string{"mods"}

	assert.True(t, cfg.IsWhitelisted("42", nil))
	assert.True(t, cfg.IsWhitelisted("7", []string{"everyone", "mods"}))
	assert.False(t, cfg.IsWhitelisted("7", []string{"everyone"}))
}

func TestCloneDoesNotShareSlices(t *testing.T) {
	cfg := Default()
	clone := cfg.Clone()
	clone.Whitelist.Users = append(clone.Whitelist.Users, "1")
	clone.SpamDetection.SpamKeywords[0] = "changed"

	assert.Empty(t, cfg.Whitelist.Users)
	assert.Equal(t, "free nitro", cfg.SpamDetection.SpamKeywords[0])
}

func TestDefaultTreeDecodesBack(t *testing.T) {
	tree, err := configTree(Default())
	require.NoError(t, err)

	cfg, err := decodeTree(tree)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, true, ParseValue("true"))
	assert.Equal(t, float64(12), ParseValue("12"))
	assert.Equal(t, []any{"a", "b"}, ParseValue(`["a","b"]`))
	assert.Equal(t, "kick", ParseValue("kick"))
	assert.Equal(t, "kick", ParseValue(`"kick"`))
}
