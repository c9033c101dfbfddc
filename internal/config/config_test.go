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
	assert.Equal(t, "concord", cfg.Name)
	assert.Equal(t, 60*time.Second, cfg.GetCacheTTL())
	assert.Equal(t, time.Second, cfg.GetTickInterval())
	assert.Equal(t, 60*time.Second, cfg.GetHeartbeatInterval())
	assert.Equal(t, 128, cfg.Messaging.QueueBound)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concord.yaml")
	doc := `
context_state:
  cache_ttl: 5s
metrics:
  enabled: true
  listen: ":9999"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.GetCacheTTL())
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9999", cfg.Metrics.Listen)
	// Untouched sections keep their defaults.
	assert.Equal(t, "1s", cfg.Orchestrator.TickInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("context_state: ["), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverridesPath(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "env.yaml")
	require.NoError(t, os.WriteFile(envPath, []byte("name: from-env\n"), 0o644))
	t.Setenv(EnvConfigPath, envPath)

	cfg, err := Load(filepath.Join(dir, "ignored.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Name)
}

func TestBadDurationFallsBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ContextState.CacheTTL = "soon"
	cfg.Registry.HeartbeatInterval = "-1s"
	assert.Equal(t, 60*time.Second, cfg.GetCacheTTL())
	assert.Equal(t, 60*time.Second, cfg.GetHeartbeatInterval())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "concord.yaml")
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
