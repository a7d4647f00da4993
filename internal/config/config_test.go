package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, ":3000", cfg.Server.Addr())
	assert.Equal(t, "data/orders.json", cfg.Storage.OrdersFile)
	assert.Equal(t, 10*time.Second, cfg.Client.Timeout)
	assert.Equal(t, 2, cfg.Client.Retries)
	assert.Equal(t, time.Second, cfg.Client.RetryInterval)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "sipstop.yaml")
	require.NoError(t, os.WriteFile(file, []byte("server:\n  port: 8081\nclient:\n  retries: 4\n"), 0o644))
	t.Setenv("SIPSTOP_CLIENT_TIMEOUT", "250ms")

	cfg, err := Load(viper.New(), file)
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Client.Retries)
	assert.Equal(t, 250*time.Millisecond, cfg.Client.Timeout)
}

func TestLoadRejectsInvalid(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(file, []byte("server:\n  port: 0\n"), 0o644))

	_, err := Load(viper.New(), file)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger(LogConfig{Level: "debug", Format: "json"})
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	logger = NewLogger(LogConfig{Level: "nonsense"})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}
