package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "auth:\n  secret: test-secret\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, 30*time.Minute, cfg.CleanupPolicy.MaxIdle)
	assert.Equal(t, 60*time.Second, cfg.CleanupPolicy.MaxNoHeartbeat)
	assert.Equal(t, 5*time.Minute, cfg.CleanupPolicy.SweepInterval)
	assert.Equal(t, 60*time.Second, cfg.LiveStreamTimeout)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatHint)
	assert.Equal(t, 10, cfg.MJPEGFPS)
	assert.Equal(t, 80, cfg.MJPEGQuality)
	assert.Equal(t, 15, cfg.WebRTCFPS)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.True(t, cfg.MetricsEnabled)
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
auth:
  secret: s
pool:
  idleTimeout: 10m
  heartbeatTimeout: 45s
  sweepInterval: 1m
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.CleanupPolicy.MaxIdle)
	assert.Equal(t, 45*time.Second, cfg.CleanupPolicy.MaxNoHeartbeat)
	assert.Equal(t, time.Minute, cfg.CleanupPolicy.SweepInterval)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "auth:\n  secret: s\npool:\n  idleTimeout: soon\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsOutOfRangeFPS(t *testing.T) {
	path := writeConfig(t, "auth:\n  secret: s\nstream:\n  mjpegFps: 90\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRequiresAuthSecret(t *testing.T) {
	path := writeConfig(t, "api:\n  listen: ':9000'\n")
	_, err := Load(path)
	assert.Error(t, err)

	path = writeConfig(t, "auth:\n  disabled: true\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.AuthDisabled)
}

func TestLoadSQLiteRequiresPath(t *testing.T) {
	path := writeConfig(t, "auth:\n  secret: s\nstore:\n  backend: sqlite\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	t.Setenv("BROWSERPILOT_LISTEN", ":7777")
	t.Setenv("BROWSERPILOT_SWEEP_INTERVAL", "90s")

	path := writeConfig(t, "auth:\n  secret: s\napi:\n  listen: ':8088'\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Listen)
	assert.Equal(t, 90*time.Second, cfg.CleanupPolicy.SweepInterval)
}

func TestHolderReloadKeepsOldOnFailure(t *testing.T) {
	path := writeConfig(t, "auth:\n  secret: s\napi:\n  listen: ':8001'\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	h := NewHolder(cfg, path)
	assert.Equal(t, ":8001", h.Get().Listen)

	require.NoError(t, os.WriteFile(path, []byte("pool:\n  idleTimeout: garbage\n"), 0o600))
	assert.Error(t, h.Reload(t.Context()))
	assert.Equal(t, ":8001", h.Get().Listen, "failed reload keeps previous config")

	require.NoError(t, os.WriteFile(path, []byte("auth:\n  secret: s\napi:\n  listen: ':8002'\n"), 0o600))
	require.NoError(t, h.Reload(t.Context()))
	assert.Equal(t, ":8002", h.Get().Listen)
}
