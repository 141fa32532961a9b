package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettings(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	t.Setenv("MINDTRACK_SETTINGS", path)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MINDTRACK_SETTINGS", filepath.Join(t.TempDir(), "missing.json"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "redis", cfg.ClaimBackend)
	assert.Equal(t, DefaultWindow, cfg.Window)
	assert.Equal(t, DefaultEmptyPollSleep, cfg.EmptyPollSleep)
	assert.Equal(t, 20, cfg.MaxBatchItems)
	assert.Equal(t, DefaultAdminPort, cfg.AdminPort)
}

func TestLoadSettingsFile(t *testing.T) {
	writeSettings(t, `{
  "MINDTRACK_REDIS_ADDR": "redis.internal:6380",
  "MINDTRACK_CLAIM_BACKEND": "postgres",
  "MINDTRACK_WINDOW": "30s",
  "MINDTRACK_ANALYZER_WORKERS": 4
}`)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6380", cfg.RedisAddr)
	assert.Equal(t, "postgres", cfg.ClaimBackend)
	assert.Equal(t, 30*time.Second, cfg.Window)
	assert.Equal(t, 4, cfg.AnalyzerWorkers)
	// Untouched keys keep their defaults.
	assert.Equal(t, 20, cfg.MaxBatchItems)
}

func TestLoadEnvWinsOverSettings(t *testing.T) {
	writeSettings(t, `{"MINDTRACK_REDIS_ADDR": "from-file:6379", "MINDTRACK_MAX_BATCH_ITEMS": 5}`)
	t.Setenv("MINDTRACK_REDIS_ADDR", "from-env:6379")
	t.Setenv("MINDTRACK_WINDOW", "45s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env:6379", cfg.RedisAddr)
	assert.Equal(t, 5, cfg.MaxBatchItems)
	assert.Equal(t, 45*time.Second, cfg.Window)
}

func TestLoadMalformedSettingsKeepsDefaults(t *testing.T) {
	writeSettings(t, `{not json`)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestGetIsCached(t *testing.T) {
	first := Get()
	require.NotNil(t, first)
	assert.Same(t, first, Get())
}
