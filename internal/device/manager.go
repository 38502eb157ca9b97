// internal/device/manager.go
package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	internalDriver "fieldgate/internal/driver"
	"fieldgate/internal/driver/modbus"
	"fieldgate/internal/model"
	"fieldgate/pkg/driver"
)

// transportKeywords mark error strings that indicate a transport fault
// rather than a device-level refusal.
var transportKeywords = []string{
	"connect", "connection", "timeout", "refused", "unreachable",
	"socket", "broken pipe", "reset by peer", "i/o", "eof", "no route",
}

// ErrDeviceExists is returned by AddDevice for an already-registered id,
// letting callers treat the duplicate as an idempotent success.
var ErrDeviceExists = errors.New("device already exists")

func isTransportError(msg string) bool {
	lower := strings.ToLower(msg)
	for _, kw := range transportKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Manager owns the set of device connections keyed by device id. All of
// its operations are safe under concurrent calls from multiple client
// connection handlers.
type Manager struct {
	registry  *internalDriver.Registry
	opTimeout time.Duration
	logger    *zap.Logger

	mu    sync.RWMutex
	conns map[string]*Connection

	subMu       sync.RWMutex
	subscribers []func(model.StatusChange)
}

// NewManager creates a device manager.
func NewManager(registry *internalDriver.Registry, opTimeout time.Duration, logger *zap.Logger) *Manager {
	m := &Manager{
		registry:  registry,
		opTimeout: opTimeout,
		conns:     make(map[string]*Connection),
		logger:    logger,
	}

	// Logging is the built-in status-change consumer.
	m.Subscribe(func(sc model.StatusChange) {
		m.logger.Info("Device state changed",
			zap.String("device_id", sc.DeviceID),
			zap.String("old_state", string(sc.OldState)),
			zap.String("new_state", string(sc.NewState)),
			zap.String("error", sc.Error),
		)
	})

	return m
}

// Subscribe registers a status-change consumer. Consumers must not block;
// notifications are delivered synchronously on the transitioning goroutine.
func (m *Manager) Subscribe(fn func(model.StatusChange)) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

func (m *Manager) publish(sc model.StatusChange) {
	m.subMu.RLock()
	subs := m.subscribers
	m.subMu.RUnlock()

	for _, fn := range subs {
		fn(sc)
	}
}

// ValidateConfig checks a device configuration without registering it:
// type-specific field validation, driver availability, and for RTU devices
// that the named serial port actually exists on this host.
func (m *Manager) ValidateConfig(cfg model.DeviceConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if !m.registry.IsSupported(cfg.Type) {
		return fmt.Errorf("no driver registered for device type %s", cfg.Type)
	}

	if cfg.Type == model.DeviceTypeModbusRTU {
		ports, err := modbus.AvailableSerialPorts()
		if err != nil {
			// Enumeration failing is not the config's fault; leave it to
			// the connect attempt.
			m.logger.Warn("Serial port enumeration failed", zap.Error(err))
			return nil
		}
		for _, p := range ports {
			if p == cfg.SerialPort {
				return nil
			}
		}
		return fmt.Errorf("serial port %s not present on this host", cfg.SerialPort)
	}

	return nil
}

// AddDevice validates the config, rejects duplicate ids, builds the
// driver-backed connection and, for enabled devices, immediately attempts
// to connect. A failed connect does not fail the add; it is logged and
// surfaced through status queries.
func (m *Manager) AddDevice(ctx context.Context, cfg model.DeviceConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid device config: %w", err)
	}

	drv, err := m.registry.CreateDriver(cfg)
	if err != nil {
		return fmt.Errorf("create driver for %s: %w", cfg.DeviceID, err)
	}

	conn := NewConnection(cfg, drv, m.opTimeout, m.logger)
	conn.setNotify(m.publish)

	m.mu.Lock()
	if _, exists := m.conns[cfg.DeviceID]; exists {
		m.mu.Unlock()
		drv.Close()
		return fmt.Errorf("device %s: %w", cfg.DeviceID, ErrDeviceExists)
	}
	m.conns[cfg.DeviceID] = conn
	m.mu.Unlock()

	m.logger.Info("Device added",
		zap.String("device_id", cfg.DeviceID),
		zap.String("device_type", string(cfg.Type)),
		zap.Bool("enabled", cfg.Enabled),
	)

	if cfg.Enabled {
		if err := conn.Connect(ctx); err != nil {
			m.logger.Warn("Initial connect failed",
				zap.String("device_id", cfg.DeviceID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// RemoveDevice unsubscribes the connection from notifications, disconnects
// best-effort and evicts it. The connection is disposed exactly once.
func (m *Manager) RemoveDevice(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	conn, exists := m.conns[deviceID]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("device %s not found", deviceID)
	}
	delete(m.conns, deviceID)
	m.mu.Unlock()

	conn.setNotify(nil)
	if err := conn.Disconnect(ctx); err != nil {
		m.logger.Warn("Disconnect on removal failed",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
	}
	if err := conn.Close(); err != nil {
		m.logger.Warn("Driver close failed",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
	}

	m.logger.Info("Device removed", zap.String("device_id", deviceID))
	return nil
}

// Exists reports whether a device id is registered.
func (m *Manager) Exists(deviceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.conns[deviceID]
	return ok
}

func (m *Manager) get(deviceID string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[deviceID]
	return conn, ok
}

// ConnectDevice brings a device online; idempotent for connected devices.
func (m *Manager) ConnectDevice(ctx context.Context, deviceID string) error {
	conn, ok := m.get(deviceID)
	if !ok {
		return fmt.Errorf("device %s not found", deviceID)
	}
	return conn.Connect(ctx)
}

// DisconnectDevice takes a device offline; idempotent for disconnected
// devices.
func (m *Manager) DisconnectDevice(ctx context.Context, deviceID string) error {
	conn, ok := m.get(deviceID)
	if !ok {
		return fmt.Errorf("device %s not found", deviceID)
	}
	return conn.Disconnect(ctx)
}

// ReadDeviceData reads the addresses from a device. It never returns an
// error: an unknown device yields one NotFound result per address, a
// disconnected device one NotConnected result per address, and no device
// I/O is performed in either case.
func (m *Manager) ReadDeviceData(ctx context.Context, deviceID string, addresses []string) []driver.PointResult {
	conn, ok := m.get(deviceID)
	if !ok {
		return failAll(addresses, model.QualityNotFound, fmt.Errorf("device %s not found", deviceID))
	}
	if !conn.IsConnected() {
		return failAll(addresses, model.QualityNotConnected, fmt.Errorf("device %s not connected", deviceID))
	}
	return conn.ReadBatch(ctx, addresses)
}

// WriteDeviceData writes the points to a device with the same
// short-circuiting as ReadDeviceData. One result per point, always.
func (m *Manager) WriteDeviceData(ctx context.Context, deviceID string, points []driver.WritePoint) []driver.PointResult {
	addresses := make([]string, len(points))
	for i, p := range points {
		addresses[i] = p.Address
	}

	conn, ok := m.get(deviceID)
	if !ok {
		return failAll(addresses, model.QualityNotFound, fmt.Errorf("device %s not found", deviceID))
	}
	if !conn.IsConnected() {
		return failAll(addresses, model.QualityNotConnected, fmt.Errorf("device %s not connected", deviceID))
	}
	return conn.WriteBatch(ctx, points)
}

// GetStatus returns a snapshot for one device.
func (m *Manager) GetStatus(deviceID string) (model.DeviceStatus, error) {
	conn, ok := m.get(deviceID)
	if !ok {
		return model.DeviceStatus{}, fmt.Errorf("device %s not found", deviceID)
	}
	return conn.Status(), nil
}

// GetAllStatus returns snapshots for every device, ordered by device id.
func (m *Manager) GetAllStatus() []model.DeviceStatus {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	statuses := make([]model.DeviceStatus, 0, len(conns))
	for _, conn := range conns {
		statuses = append(statuses, conn.Status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].DeviceID < statuses[j].DeviceID
	})
	return statuses
}

// Count returns the number of registered devices.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// TestConnection probes a device. Only transport-level failures count as a
// failed test: a device refusing an operation for a non-connectivity
// reason is still reachable.
func (m *Manager) TestConnection(ctx context.Context, deviceID string) (bool, error) {
	conn, ok := m.get(deviceID)
	if !ok {
		return false, fmt.Errorf("device %s not found", deviceID)
	}

	err := conn.Test(ctx)
	if err == nil {
		return true, nil
	}
	if isTransportError(err.Error()) {
		return false, err
	}
	return true, nil
}

// Shutdown disconnects every device with a bounded wait and disposes each
// connection exactly once.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*Connection)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for id, conn := range conns {
		wg.Add(1)
		go func(id string, conn *Connection) {
			defer wg.Done()
			conn.setNotify(nil)
			if err := conn.Disconnect(ctx); err != nil {
				m.logger.Warn("Shutdown disconnect failed",
					zap.String("device_id", id),
					zap.Error(err),
				)
			}
			conn.Close()
		}(id, conn)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All devices disconnected")
	case <-ctx.Done():
		m.logger.Warn("Device shutdown wait expired")
	}
}

func failAll(addresses []string, quality model.Quality, err error) []driver.PointResult {
	results := make([]driver.PointResult, 0, len(addresses))
	for _, addr := range addresses {
		results = append(results, driver.BadResult(addr, quality, err))
	}
	return results
}
