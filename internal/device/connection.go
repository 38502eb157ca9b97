// internal/device/connection.go
package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"fieldgate/internal/model"
	"fieldgate/pkg/driver"
)

// Connection wraps one driver with the gateway-side lifecycle: the state
// machine, per-device statistics and status-change notifications. It is
// owned exclusively by the Manager.
type Connection struct {
	cfg       model.DeviceConfig
	drv       driver.Driver
	opTimeout time.Duration
	logger    *zap.Logger

	// mu guards state and statistics only. It is never held across a
	// driver call, so slow devices do not serialize unrelated work.
	mu       sync.Mutex
	state    model.ConnectionState
	lastComm *time.Time
	lastErr  string
	stats    model.DeviceStatistics
	latSum   time.Duration
	latCount int64
	notify   func(model.StatusChange)
}

// NewConnection creates a device connection in the Disconnected state.
func NewConnection(cfg model.DeviceConfig, drv driver.Driver, opTimeout time.Duration, logger *zap.Logger) *Connection {
	if opTimeout <= 0 {
		opTimeout = 10 * time.Second
	}
	return &Connection{
		cfg:       cfg,
		drv:       drv,
		opTimeout: opTimeout,
		state:     model.StateDisconnected,
		logger: logger.With(
			zap.String("device_id", cfg.DeviceID),
			zap.String("device_type", string(cfg.Type)),
		),
	}
}

// Config returns the immutable device configuration.
func (c *Connection) Config() model.DeviceConfig {
	return c.cfg
}

// State returns the current lifecycle state.
func (c *Connection) State() model.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setNotify installs or clears the status-change callback.
func (c *Connection) setNotify(fn func(model.StatusChange)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = fn
}

// setState performs a transition and raises the status-change notification.
// No-op when the state is unchanged.
func (c *Connection) setState(newState model.ConnectionState, errMsg string) {
	c.mu.Lock()
	oldState := c.state
	if oldState == newState {
		c.mu.Unlock()
		return
	}
	c.state = newState
	c.lastErr = errMsg
	fn := c.notify
	c.mu.Unlock()

	if fn != nil {
		fn(model.StatusChange{
			DeviceID:  c.cfg.DeviceID,
			OldState:  oldState,
			NewState:  newState,
			Error:     errMsg,
			Timestamp: time.Now(),
		})
	}
}

// Connect attempts to bring the device online. Connecting an already
// connected device is a no-op success.
func (c *Connection) Connect(ctx context.Context) error {
	if c.State() == model.StateConnected {
		return nil
	}

	c.setState(model.StateConnecting, "")

	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	if err := c.drv.Connect(ctx); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			c.setState(model.StateTimeout, err.Error())
			return fmt.Errorf("connect %s: %w", c.cfg.DeviceID, err)
		}
		c.setState(model.StateError, err.Error())
		return fmt.Errorf("connect %s: %w", c.cfg.DeviceID, err)
	}

	c.touch()
	c.setState(model.StateConnected, "")
	return nil
}

// Disconnect takes the device offline. Disconnecting an already
// disconnected device is a no-op success.
func (c *Connection) Disconnect(ctx context.Context) error {
	if c.State() == model.StateDisconnected {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	if err := c.drv.Disconnect(ctx); err != nil {
		c.setState(model.StateError, err.Error())
		return fmt.Errorf("disconnect %s: %w", c.cfg.DeviceID, err)
	}

	c.setState(model.StateDisconnected, "")
	return nil
}

// IsConnected reports whether the device is in the Connected state.
func (c *Connection) IsConnected() bool {
	return c.State() == model.StateConnected
}

// ReadBatch delegates to the driver and tracks statistics.
func (c *Connection) ReadBatch(ctx context.Context, addresses []string) []driver.PointResult {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	start := time.Now()
	results := c.drv.ReadBatch(ctx, addresses)
	elapsed := time.Since(start)

	c.recordBatch(results, elapsed, true)
	c.classifyBatchFault(ctx, results)
	return results
}

// WriteBatch delegates to the driver and tracks statistics.
func (c *Connection) WriteBatch(ctx context.Context, points []driver.WritePoint) []driver.PointResult {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	start := time.Now()
	results := c.drv.WriteBatch(ctx, points)
	elapsed := time.Since(start)

	c.recordBatch(results, elapsed, false)
	c.classifyBatchFault(ctx, results)
	return results
}

// Test probes the device without changing its nominal state.
func (c *Connection) Test(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	return c.drv.TestConnection(ctx)
}

// Status returns a read-only snapshot.
func (c *Connection) Status() model.DeviceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastComm *time.Time
	if c.lastComm != nil {
		t := *c.lastComm
		lastComm = &t
	}

	return model.DeviceStatus{
		DeviceID:          c.cfg.DeviceID,
		Type:              c.cfg.Type,
		State:             c.state,
		Enabled:           c.cfg.Enabled,
		LastCommunication: lastComm,
		LastError:         c.lastErr,
		Statistics:        c.stats,
	}
}

// Close releases the driver. Called exactly once, on removal.
func (c *Connection) Close() error {
	return c.drv.Close()
}

func (c *Connection) touch() {
	now := time.Now()
	c.mu.Lock()
	c.lastComm = &now
	c.mu.Unlock()
}

// recordBatch folds one batch outcome into the statistics.
func (c *Connection) recordBatch(results []driver.PointResult, elapsed time.Duration, read bool) {
	var successes int64
	for _, r := range results {
		if r.Success {
			successes++
		}
	}

	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if read {
		c.stats.ReadCount += int64(len(results))
		c.stats.ReadSuccessCount += successes
	} else {
		c.stats.WriteCount += int64(len(results))
		c.stats.WriteSuccessCount += successes
	}

	// Two bytes per register word is close enough for the counters.
	c.stats.BytesTransferred += successes * 2

	c.latSum += elapsed
	c.latCount++
	c.stats.AverageLatency = c.latSum / time.Duration(c.latCount)
	if elapsed > c.stats.MaxLatency {
		c.stats.MaxLatency = elapsed
	}

	if successes > 0 {
		c.lastComm = &now
	}
}

// classifyBatchFault moves the connection into Timeout or Error when a
// batch surfaced a transport-level fault.
func (c *Connection) classifyBatchFault(ctx context.Context, results []driver.PointResult) {
	if ctx.Err() == context.DeadlineExceeded {
		c.setState(model.StateTimeout, context.DeadlineExceeded.Error())
		return
	}
	for _, r := range results {
		if !r.Success && isTransportError(r.Error) {
			c.setState(model.StateError, r.Error)
			return
		}
	}
}
