// internal/driver/registry.go
package driver

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"fieldgate/internal/model"
	"fieldgate/pkg/driver"
)

// Factory constructs a driver for a validated device config
type Factory func(cfg model.DeviceConfig, logger *zap.Logger) (driver.Driver, error)

// Registry manages driver registration and creation, keyed by device type.
// External protocol drivers plug in through Register.
type Registry struct {
	factories map[model.DeviceType]Factory
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRegistry creates a new driver registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		factories: make(map[model.DeviceType]Factory),
		logger:    logger,
	}
}

// Register registers a driver factory for a device type
func (r *Registry) Register(deviceType model.DeviceType, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[deviceType] = factory
	r.logger.Info("Driver registered", zap.String("device_type", string(deviceType)))
}

// CreateDriver creates a driver instance for the config's device type
func (r *Registry) CreateDriver(cfg model.DeviceConfig) (driver.Driver, error) {
	r.mu.RLock()
	factory, exists := r.factories[cfg.Type]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("no driver registered for device type %s", cfg.Type)
	}
	return factory(cfg, r.logger)
}

// IsSupported reports whether a driver is registered for the device type
func (r *Registry) IsSupported(deviceType model.DeviceType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.factories[deviceType]
	return exists
}

// SupportedTypes returns the device types with a registered driver
func (r *Registry) SupportedTypes() []model.DeviceType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]model.DeviceType, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	return types
}
