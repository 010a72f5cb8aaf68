package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.OCPP.Port)
	assert.Equal(t, 300*time.Second, cfg.OCPP.HeartbeatInterval)
	assert.Equal(t, 2.0, cfg.OCPP.HeartbeatGrace)
	assert.Equal(t, 30*time.Second, cfg.OCPP.CallTimeout)
	assert.Equal(t, "nats", cfg.Queue.Driver)
	assert.True(t, cfg.OCPP.Security.RequireSubprotocol)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://csms@db/csms")
	t.Setenv("APP_OCPP_CALL_TIMEOUT", "5s")
	t.Setenv("APP_QUEUE_DRIVER", "rabbitmq")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://csms@db/csms", cfg.Database.URL)
	assert.Equal(t, 5*time.Second, cfg.OCPP.CallTimeout)
	assert.Equal(t, "rabbitmq", cfg.Queue.Driver)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	yaml := `
ocpp:
  heartbeat_interval: 60s
  heartbeat_grace: 3
auth:
  offline_allow_list: ["T1", "T2"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.OCPP.HeartbeatInterval)
	assert.Equal(t, 3.0, cfg.OCPP.HeartbeatGrace)
	assert.Equal(t, []string{"T1", "T2"}, cfg.Auth.OfflineAllowList)
}

func TestLoad_RejectsUnknownQueueDriver(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("APP_QUEUE_DRIVER", "kafka")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue.driver")
}
