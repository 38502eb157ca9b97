// internal/driver/sim/sim.go
package sim

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"fieldgate/internal/model"
	"fieldgate/pkg/driver"
)

// Driver is an in-memory device simulator. It honors the full driver
// contract against a register map, which makes it useful both for local
// development and for exercising the gateway without field hardware.
type Driver struct {
	cfg    model.DeviceConfig
	logger *zap.Logger

	mu        sync.RWMutex
	connected bool
	registers map[string]model.Value

	// ConnectErr, when set, makes every Connect attempt fail.
	ConnectErr error
}

// NewDriver creates a simulator driver.
func NewDriver(cfg model.DeviceConfig, logger *zap.Logger) *Driver {
	return &Driver{
		cfg:       cfg,
		logger:    logger.With(zap.String("protocol", "simulator"), zap.String("device_id", cfg.DeviceID)),
		registers: make(map[string]model.Value),
	}
}

// Preload seeds a register value, typically from a test or dev fixture.
func (d *Driver) Preload(address string, v model.Value) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registers[address] = v
}

// Connect marks the simulator connected.
func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ConnectErr != nil {
		return d.ConnectErr
	}
	d.connected = true
	return nil
}

// Disconnect marks the simulator disconnected.
func (d *Driver) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	return nil
}

// IsConnected reports the simulated transport state.
func (d *Driver) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// Read returns the stored value for an address.
func (d *Driver) Read(ctx context.Context, address string) (model.Value, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.connected {
		return model.Value{}, fmt.Errorf("simulator not connected")
	}
	v, ok := d.registers[address]
	if !ok {
		return model.Value{}, fmt.Errorf("address %s has no value", address)
	}
	return v, nil
}

// ReadBatch reads every address, one result per address.
func (d *Driver) ReadBatch(ctx context.Context, addresses []string) []driver.PointResult {
	results := make([]driver.PointResult, 0, len(addresses))
	for _, addr := range addresses {
		v, err := d.Read(ctx, addr)
		if err != nil {
			results = append(results, driver.BadResult(addr, model.QualityBad, err))
			continue
		}
		results = append(results, driver.GoodResult(addr, v))
	}
	return results
}

// Write stores a value at an address.
func (d *Driver) Write(ctx context.Context, address string, value model.Value) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return fmt.Errorf("simulator not connected")
	}
	d.registers[address] = value
	return nil
}

// WriteBatch writes every point, one result per point.
func (d *Driver) WriteBatch(ctx context.Context, points []driver.WritePoint) []driver.PointResult {
	results := make([]driver.PointResult, 0, len(points))
	for _, p := range points {
		if err := d.Write(ctx, p.Address, p.Value); err != nil {
			results = append(results, driver.BadResult(p.Address, model.QualityBad, err))
			continue
		}
		results = append(results, driver.WrittenResult(p.Address))
	}
	return results
}

// TestConnection succeeds whenever the simulator is connected.
func (d *Driver) TestConnection(ctx context.Context) error {
	if !d.IsConnected() {
		return fmt.Errorf("simulator connect refused")
	}
	return nil
}

// Close disconnects the simulator.
func (d *Driver) Close() error {
	return d.Disconnect(context.Background())
}
