package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ratingsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, "http://localhost:3000/api", cfg.APIBase)
	assert.Equal(t, 5, cfg.Sync.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Sync.InitialBackoff)
	assert.Equal(t, 8*time.Minute, cfg.Sync.MaxBackoff)
	assert.Equal(t, time.Second, cfg.Connectivity.SettleDelay)
	assert.Equal(t, filepath.Join(DefaultDataDir, "ratings.db"), cfg.DatabasePath())
	assert.Equal(t, "http://localhost:3000/", cfg.HealthURL())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
origin: https://ratings.example.com
data_dir: /var/lib/ratingsync
sync:
  max_retries: 8
  initial_backoff: 10s
  background_interval: 0s
connectivity:
  health_path: /healthz
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://ratings.example.com/api", cfg.APIBase)
	assert.Equal(t, 8, cfg.Sync.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Sync.InitialBackoff)
	assert.Equal(t, 8*time.Minute, cfg.Sync.MaxBackoff, "unset fields keep defaults")
	assert.Zero(t, cfg.Sync.BackgroundInterval)
	assert.Equal(t, "https://ratings.example.com/healthz", cfg.HealthURL())

	ec := cfg.Engine()
	assert.Equal(t, 8, ec.MaxRetries)
	assert.Equal(t, 10*time.Second, ec.InitialBackoff)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default().Listen, cfg.Listen)
}

func TestLoad_UnknownField(t *testing.T) {
	_, err := Load(writeConfig(t, "orign: http://x\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orign")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "listen: 127.0.0.1:9000\nsync:\n  max_retries: 3\n")
	t.Setenv("RATINGSYNC_LISTEN", "0.0.0.0:9100")
	t.Setenv("RATINGSYNC_SYNC_MAX_RETRIES", "7")
	t.Setenv("RATINGSYNC_SYNC_JITTER", "0.2")
	t.Setenv("RATINGSYNC_CONNECTIVITY_SETTLE_DELAY", "2s")
	t.Setenv("RATINGSYNC_API_BASE", "https://api.example.com/v1")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9100", cfg.Listen)
	assert.Equal(t, 7, cfg.Sync.MaxRetries)
	assert.InDelta(t, 0.2, cfg.Sync.Jitter, 1e-9)
	assert.Equal(t, 2*time.Second, cfg.Connectivity.SettleDelay)
	assert.Equal(t, "https://api.example.com/v1", cfg.APIBase)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("RATINGSYNC_SYNC_MAX_RETRIES", "many")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"relative origin", func(c *Config) { c.Origin = "localhost:3000" }, "origin"},
		{"zero retries", func(c *Config) { c.Sync.MaxRetries = 0 }, "max_retries"},
		{"inverted backoff", func(c *Config) { c.Sync.InitialBackoff = time.Hour }, "exceeds"},
		{"jitter", func(c *Config) { c.Sync.Jitter = 1.5 }, "jitter"},
		{"health path", func(c *Config) { c.Connectivity.HealthPath = "healthz" }, "health_path"},
		{"empty listen", func(c *Config) { c.Listen = "" }, "listen"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.APIBase = "http://localhost:3000/api"
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ProbingDisabled(t *testing.T) {
	cfg := Default()
	cfg.APIBase = "http://localhost:3000/api"
	cfg.Connectivity.HealthPath = ""
	cfg.Connectivity.ProbeInterval = 0
	require.NoError(t, cfg.Validate())
	assert.Empty(t, cfg.HealthURL())
}
