package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, ":8081", cfg.Signal.Address)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  address: ":9090"
media:
  rtc_min_port: 50000
  rtc_max_port: 50999
  worker_fatal_grace: 5s
redis:
  enabled: true
  address: "redis:6379"
  pool_size: 20
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, uint16(50000), cfg.Media.RtcMinPort)
	assert.Equal(t, uint16(50999), cfg.Media.RtcMaxPort)
	assert.Equal(t, 5*time.Second, cfg.Media.WorkerFatalGrace)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Address)
	assert.Equal(t, 20, cfg.Redis.PoolSize)

	// Untouched sections keep their defaults.
	assert.Equal(t, ":8081", cfg.Signal.Address)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
media:
  rtc_min_port: 45000
  rtc_max_port: 40000
`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateCatchesPortRangeTooSmallForWorkers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Media.WorkersNum = 8
	cfg.Media.RtcMinPort = 40000
	cfg.Media.RtcMaxPort = 40003
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresJWTSecretWhenAuthEnabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecret = ""
	assert.Error(t, cfg.Validate())

	cfg.Auth.JWTSecret = "secret"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRequiresRateLimitsWhenEnabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 0
	assert.Error(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ROOMCAST_SERVER_ADDRESS", ":7070")
	t.Setenv("ROOMCAST_LOG_LEVEL", "debug")
	t.Setenv("ROOMCAST_WORKERS_NUM", "4")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 4, cfg.Media.WorkersNum)
	assert.Equal(t, 4, cfg.WorkerCount())
}

func TestWorkerCountDefaultsToHostCores(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Media.WorkersNum = 0
	assert.Greater(t, cfg.WorkerCount(), 0)
}
