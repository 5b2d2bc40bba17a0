package config_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"famlink/internal/config"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := config.FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.APIBaseURL)
	assert.Equal(t, "ws://localhost:8080/ws", cfg.SocketURL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, ".famlink", filepath.Base(cfg.DataDir))
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("FAMLINK_API_URL", "https://api.famlink.test")
	t.Setenv("FAMLINK_WS_URL", "wss://api.famlink.test/ws")
	t.Setenv("FAMLINK_DATA_DIR", "/tmp/famlink-test")
	t.Setenv("FAMLINK_LOG_LEVEL", "debug")
	t.Setenv("FAMLINK_HTTP_TIMEOUT", "5s")

	cfg, err := config.FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "https://api.famlink.test", cfg.APIBaseURL)
	assert.Equal(t, "wss://api.famlink.test/ws", cfg.SocketURL)
	assert.Equal(t, "/tmp/famlink-test", cfg.DataDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
}

func TestFromEnvBadDuration(t *testing.T) {
	t.Setenv("FAMLINK_HTTP_TIMEOUT", "not-a-duration")

	_, err := config.FromEnv()
	require.Error(t, err)
}
