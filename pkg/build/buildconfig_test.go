package build

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigAppliesOnlyOwnChain(t *testing.T) {
	raw := map[string]map[string]any{
		"build":  {"artifacts_dir": "/tmp/out", "quick": true},
		"debian": {"build_profile": "nocheck parallel=4"},
		"rpm":    {"source_only": true},
		"arpa":   {"on_success": []any{"echo hi"}},
	}

	cfg, err := ParseConfig(raw, ClassDebian)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/out", cfg.ArtifactsDir)
	assert.True(t, cfg.Quick)
	assert.Equal(t, "nocheck parallel=4", cfg.BuildProfile)
	assert.False(t, cfg.SourceOnly)
	assert.Empty(t, cfg.OnSuccess)
}

func TestParseConfigARPAChainIncludesRPMAndBuild(t *testing.T) {
	raw := map[string]map[string]any{
		"build": {"quick": true},
		"rpm":   {"source_only": true},
		"arpa":  {"artifacts_dir": "/tmp/arpa"},
	}

	cfg, err := ParseConfig(raw, ClassARPA)
	require.NoError(t, err)
	assert.True(t, cfg.Quick)
	assert.True(t, cfg.SourceOnly)
	assert.Equal(t, "/tmp/arpa", cfg.ArtifactsDir)
}

func TestParseConfigLeafOverridesAncestor(t *testing.T) {
	raw := map[string]map[string]any{
		"build": {"artifacts_dir": "/a"},
		"rpm":   {"artifacts_dir": "/b"},
	}
	cfg, err := ParseConfig(raw, ClassRPM)
	require.NoError(t, err)
	assert.Equal(t, "/b", cfg.ArtifactsDir)
}

func TestParseConfigUnknownClassErrors(t *testing.T) {
	_, err := ParseConfig(nil, Class("bogus"))
	assert.Error(t, err)
}
