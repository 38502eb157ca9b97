// internal/driver/registry_test.go
package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fieldgate/internal/model"
)

func TestRegistryDefaults(t *testing.T) {
	logger := zap.NewNop()
	registry := NewRegistry(logger)
	RegisterDefaultDrivers(registry, logger)

	assert.True(t, registry.IsSupported(model.DeviceTypeModbusTCP))
	assert.True(t, registry.IsSupported(model.DeviceTypeModbusRTU))
	assert.True(t, registry.IsSupported(model.DeviceTypeSimulator))

	// Validation-only types until a factory is plugged in.
	assert.False(t, registry.IsSupported(model.DeviceTypeS7))
	assert.False(t, registry.IsSupported(model.DeviceTypeFINS))
	assert.False(t, registry.IsSupported(model.DeviceTypeMC))

	assert.Len(t, registry.SupportedTypes(), 3)
}

func TestCreateDriverUnknownType(t *testing.T) {
	registry := NewRegistry(zap.NewNop())

	_, err := registry.CreateDriver(model.DeviceConfig{DeviceID: "s7-1", Type: model.DeviceTypeS7})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no driver registered")
}

func TestCreateDriverSimulator(t *testing.T) {
	logger := zap.NewNop()
	registry := NewRegistry(logger)
	RegisterDefaultDrivers(registry, logger)

	drv, err := registry.CreateDriver(model.DeviceConfig{DeviceID: "sim-1", Type: model.DeviceTypeSimulator})
	require.NoError(t, err)
	require.NotNil(t, drv)
	assert.False(t, drv.IsConnected())
}
