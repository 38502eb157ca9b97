// internal/driver/registry_init.go
package driver

import (
	"go.uber.org/zap"

	"fieldgate/internal/driver/modbus"
	"fieldgate/internal/driver/sim"
	"fieldgate/internal/model"
	"fieldgate/pkg/driver"
)

// RegisterDefaultDrivers registers the drivers shipped with the gateway.
// S7, FINS and MC remain external: their configs validate, but driver
// construction fails until a collaborator registers a factory for them.
func RegisterDefaultDrivers(registry *Registry, logger *zap.Logger) {
	registry.Register(model.DeviceTypeModbusTCP, func(cfg model.DeviceConfig, l *zap.Logger) (driver.Driver, error) {
		return modbus.NewTCPDriver(cfg, l)
	})

	registry.Register(model.DeviceTypeModbusRTU, func(cfg model.DeviceConfig, l *zap.Logger) (driver.Driver, error) {
		return modbus.NewRTUDriver(cfg, l)
	})

	registry.Register(model.DeviceTypeSimulator, func(cfg model.DeviceConfig, l *zap.Logger) (driver.Driver, error) {
		return sim.NewDriver(cfg, l), nil
	})
}
