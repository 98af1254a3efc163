package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	assert.Equal(t, "INFO", cfg.Global.LogLevel)
	assert.Equal(t, 445, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Pool.Size)
	assert.Equal(t, 30*time.Second, cfg.Pool.AcquireWaitBudget)
	assert.Equal(t, 5*time.Minute, cfg.Pool.MaxIdleTime)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.Delay)
	assert.Equal(t, 2.0, cfg.Retry.Backoff)
	assert.Equal(t, 5, cfg.Workers.MaxThreads)
	assert.Equal(t, 24, cfg.Backup.RetentionHours)
	assert.False(t, cfg.Monitoring.MetricsEnabled)

	require.NoError(t, cfg.Validate())
}

func TestSaveAndLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := NewDefault()
	cfg.Server.Host = "nas.local"
	cfg.Server.ShareName = "documents"
	cfg.Pool.Size = 7
	cfg.Retry.MaxRetries = 9
	cfg.Workers.TaskTimeout = 42 * time.Second
	require.NoError(t, cfg.SaveToFile(path))

	loaded := NewDefault()
	require.NoError(t, loaded.LoadFromFile(path))

	assert.Equal(t, "nas.local", loaded.Server.Host)
	assert.Equal(t, "documents", loaded.Server.ShareName)
	assert.Equal(t, 7, loaded.Pool.Size)
	assert.Equal(t, 9, loaded.Retry.MaxRetries)
	assert.Equal(t, 42*time.Second, loaded.Workers.TaskTimeout)
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := NewDefault()
	assert.Error(t, cfg.LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")))
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DATESHIFT_HOST", "10.0.0.5")
	t.Setenv("DATESHIFT_SHARE", "scans")
	t.Setenv("DATESHIFT_POOL_SIZE", "6")
	t.Setenv("DATESHIFT_MAX_RETRIES", "1")
	t.Setenv("DATESHIFT_METRICS_ENABLED", "TRUE")

	cfg := NewDefault()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "10.0.0.5", cfg.Server.Host)
	assert.Equal(t, "scans", cfg.Server.ShareName)
	assert.Equal(t, 6, cfg.Pool.Size)
	assert.Equal(t, 1, cfg.Retry.MaxRetries)
	assert.True(t, cfg.Monitoring.MetricsEnabled)
}

func TestLoadFromEnvIgnoresBadNumbers(t *testing.T) {
	t.Setenv("DATESHIFT_POOL_SIZE", "many")
	cfg := NewDefault()
	require.NoError(t, cfg.LoadFromEnv())
	assert.Equal(t, 3, cfg.Pool.Size)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Configuration)
	}{
		{"zero pool size", func(c *Configuration) { c.Pool.Size = 0 }},
		{"zero workers", func(c *Configuration) { c.Workers.MaxThreads = 0 }},
		{"negative retries", func(c *Configuration) { c.Retry.MaxRetries = -1 }},
		{"backoff below one", func(c *Configuration) { c.Retry.Backoff = 0.5 }},
		{"bad port", func(c *Configuration) { c.Server.Port = 70000 }},
		{"zero retention", func(c *Configuration) { c.Backup.RetentionHours = 0 }},
		{"bad log level", func(c *Configuration) { c.Global.LogLevel = "LOUD" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveToFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, NewDefault().SaveToFile(path))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fi.Mode().Perm())
}
