// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "0.0.0.0"
  port: 9600
  max_connections: 50
ipc:
  protocol_version: "1.0"
device:
  operation_timeout: 2s
logging:
  level: debug
  format: console
devices:
  - device_id: plc-line-1
    type: MODBUS_TCP
    host: 10.0.0.10
    port: 502
    station: 1
    enabled: true
  - device_id: bench-sim
    type: SIMULATOR
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9600", cfg.Server.Addr())
	assert.Equal(t, 50, cfg.Server.MaxConnections)
	assert.Equal(t, "debug", cfg.Logging.Level)

	require.Len(t, cfg.Devices, 2)
	assert.Equal(t, "plc-line-1", cfg.Devices[0].DeviceID)
	assert.Equal(t, "10.0.0.10:502", cfg.Devices[0].Address())
	assert.True(t, cfg.Devices[0].Enabled)
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  name: fieldgate
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9500, cfg.Server.Port)
	assert.Equal(t, 20, cfg.Server.MaxConnections)
	assert.Equal(t, "1.0", cfg.IPC.ProtocolVersion)
	assert.Equal(t, 1<<20, cfg.IPC.MaxMessageSize)
	assert.Equal(t, 100, cfg.IPC.MaxBatchSize)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.API.Enabled)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errPart string
	}{
		{
			name:    "bad port",
			content: "server:\n  port: 0\n",
			errPart: "server.port",
		},
		{
			name:    "bad log level",
			content: "logging:\n  level: verbose\n",
			errPart: "logging.level",
		},
		{
			name:    "device missing host",
			content: "devices:\n  - device_id: plc-1\n    type: MODBUS_TCP\n",
			errPart: "plc-1",
		},
		{
			name: "duplicate device ids",
			content: `devices:
  - device_id: plc-1
    type: SIMULATOR
  - device_id: plc-1
    type: SIMULATOR
`,
			errPart: "duplicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errPart)
		})
	}
}

func TestIsProduction(t *testing.T) {
	cfg := &Config{}
	cfg.App.Environment = "development"
	assert.False(t, cfg.IsProduction())

	cfg.App.Environment = "production"
	assert.True(t, cfg.IsProduction())
}
