package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "tandem", cfg.Name)
	assert.Equal(t, 25, cfg.Loop.MaxTurns)
	assert.Equal(t, 0.80, cfg.ContextWindow.CompactionThreshold)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
model:
  id: claude-opus-4
loop:
  max_turns: 5
permissions:
  mode: acceptEdits
  allow:
    - tool: bash
      pattern: "git *"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "claude-opus-4", cfg.Model.ID)
	assert.Equal(t, 5, cfg.Loop.MaxTurns)
	assert.Equal(t, "acceptEdits", cfg.Permissions.Mode)
	require.Len(t, cfg.Permissions.Allow, 1)
	assert.Equal(t, "git *", cfg.Permissions.Allow[0].Pattern)
}

func TestLoadRejectsMalformedPermissionRule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
permissions:
  deny:
    - pattern: "rm *"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission")
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("TANDEM_MODEL", "claude-haiku-3-5")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "claude-haiku-3-5", cfg.Model.ID)
}

func TestDurationFallback(t *testing.T) {
	assert.Equal(t, 2*time.Minute, Duration("2m", time.Second))
	assert.Equal(t, time.Second, Duration("", time.Second))
	assert.Equal(t, time.Second, Duration("garbage", time.Second))
}
