// internal/driver/modbus/modbus.go
package modbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	mb "github.com/goburrow/modbus"
	"go.uber.org/zap"

	"fieldgate/internal/model"
	"fieldgate/pkg/driver"
)

// handlerWithConn embeds mb.ClientHandler and exposes the Connect/Close
// lifecycle shared by the TCP and RTU handlers.
type handlerWithConn interface {
	mb.ClientHandler
	Connect() error
	Close() error
}

// Driver speaks Modbus through goburrow/modbus, over TCP or RTU depending
// on how it was constructed.
type Driver struct {
	cfg     model.DeviceConfig
	handler handlerWithConn
	client  mb.Client
	logger  *zap.Logger

	mu        sync.Mutex
	connected bool
}

// NewTCPDriver creates a Modbus TCP driver for the given device config.
func NewTCPDriver(cfg model.DeviceConfig, logger *zap.Logger) (*Driver, error) {
	h := mb.NewTCPClientHandler(cfg.Address())
	if cfg.Timeout > 0 {
		h.Timeout = cfg.Timeout
	} else {
		h.Timeout = 5 * time.Second
	}
	h.SlaveId = cfg.Station

	return newDriver(cfg, h, logger.With(
		zap.String("protocol", "modbus-tcp"),
		zap.String("address", cfg.Address()),
	)), nil
}

// NewRTUDriver creates a Modbus RTU driver for the given device config.
func NewRTUDriver(cfg model.DeviceConfig, logger *zap.Logger) (*Driver, error) {
	h := mb.NewRTUClientHandler(cfg.SerialPort)
	if cfg.BaudRate > 0 {
		h.BaudRate = cfg.BaudRate
	}
	if cfg.DataBits > 0 {
		h.DataBits = cfg.DataBits
	}
	if cfg.StopBits > 0 {
		h.StopBits = cfg.StopBits
	}
	if p := strings.ToUpper(strings.TrimSpace(cfg.Parity)); p != "" {
		h.Parity = p
	}
	if cfg.Timeout > 0 {
		h.Timeout = cfg.Timeout
	} else {
		h.Timeout = 5 * time.Second
	}
	h.SlaveId = cfg.Station

	return newDriver(cfg, h, logger.With(
		zap.String("protocol", "modbus-rtu"),
		zap.String("port", cfg.SerialPort),
	)), nil
}

func newDriver(cfg model.DeviceConfig, h handlerWithConn, logger *zap.Logger) *Driver {
	return &Driver{
		cfg:     cfg,
		handler: h,
		client:  mb.NewClient(h),
		logger:  logger,
	}
}

// Connect opens the underlying transport.
func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return nil
	}
	if err := d.handler.Connect(); err != nil {
		return fmt.Errorf("modbus connect: %w", err)
	}
	d.connected = true
	d.logger.Info("Modbus transport connected")
	return nil
}

// Disconnect closes the underlying transport.
func (d *Driver) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}
	if err := d.handler.Close(); err != nil {
		return fmt.Errorf("modbus close: %w", err)
	}
	d.connected = false
	d.logger.Info("Modbus transport closed")
	return nil
}

// IsConnected reports whether the transport is open.
func (d *Driver) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Read reads one addressable point.
func (d *Driver) Read(ctx context.Context, address string) (model.Value, error) {
	reg, err := ParseAddress(address)
	if err != nil {
		return model.Value{}, err
	}

	switch reg.Table {
	case TableCoil:
		data, err := d.client.ReadCoils(reg.Offset, 1)
		if err != nil {
			return model.Value{}, fmt.Errorf("read coil %s: %w", address, err)
		}
		return model.BoolValue(len(data) > 0 && data[0]&0x01 == 0x01), nil
	case TableDiscrete:
		data, err := d.client.ReadDiscreteInputs(reg.Offset, 1)
		if err != nil {
			return model.Value{}, fmt.Errorf("read discrete input %s: %w", address, err)
		}
		return model.BoolValue(len(data) > 0 && data[0]&0x01 == 0x01), nil
	case TableInput:
		data, err := d.client.ReadInputRegisters(reg.Offset, 1)
		if err != nil {
			return model.Value{}, fmt.Errorf("read input register %s: %w", address, err)
		}
		return registerValue(data)
	default:
		data, err := d.client.ReadHoldingRegisters(reg.Offset, 1)
		if err != nil {
			return model.Value{}, fmt.Errorf("read holding register %s: %w", address, err)
		}
		return registerValue(data)
	}
}

// ReadBatch reads every address, one result per address.
func (d *Driver) ReadBatch(ctx context.Context, addresses []string) []driver.PointResult {
	results := make([]driver.PointResult, 0, len(addresses))
	for _, addr := range addresses {
		if err := ctx.Err(); err != nil {
			results = append(results, driver.BadResult(addr, model.QualityTimeout, err))
			continue
		}
		v, err := d.Read(ctx, addr)
		if err != nil {
			results = append(results, driver.BadResult(addr, model.QualityBad, err))
			continue
		}
		results = append(results, driver.GoodResult(addr, v))
	}
	return results
}

// Write writes one addressable point.
func (d *Driver) Write(ctx context.Context, address string, value model.Value) error {
	reg, err := ParseAddress(address)
	if err != nil {
		return err
	}

	switch reg.Table {
	case TableCoil:
		var coil uint16
		if truthy(value) {
			coil = 0xFF00
		}
		if _, err := d.client.WriteSingleCoil(reg.Offset, coil); err != nil {
			return fmt.Errorf("write coil %s: %w", address, err)
		}
		return nil
	case TableDiscrete, TableInput:
		return fmt.Errorf("address %s is read-only", address)
	default:
		raw, err := registerWord(value)
		if err != nil {
			return fmt.Errorf("write register %s: %w", address, err)
		}
		if _, err := d.client.WriteSingleRegister(reg.Offset, raw); err != nil {
			return fmt.Errorf("write register %s: %w", address, err)
		}
		return nil
	}
}

// WriteBatch writes every point, one result per point.
func (d *Driver) WriteBatch(ctx context.Context, points []driver.WritePoint) []driver.PointResult {
	results := make([]driver.PointResult, 0, len(points))
	for _, p := range points {
		if err := ctx.Err(); err != nil {
			results = append(results, driver.BadResult(p.Address, model.QualityTimeout, err))
			continue
		}
		if err := d.Write(ctx, p.Address, p.Value); err != nil {
			results = append(results, driver.BadResult(p.Address, model.QualityBad, err))
			continue
		}
		results = append(results, driver.WrittenResult(p.Address))
	}
	return results
}

// TestConnection probes the device with a single harmless register read.
func (d *Driver) TestConnection(ctx context.Context) error {
	if !d.IsConnected() {
		if err := d.Connect(ctx); err != nil {
			return err
		}
	}
	_, err := d.client.ReadHoldingRegisters(0, 1)
	if err != nil {
		return fmt.Errorf("modbus probe: %w", err)
	}
	return nil
}

// Close releases the transport.
func (d *Driver) Close() error {
	return d.Disconnect(context.Background())
}

func registerValue(data []byte) (model.Value, error) {
	if len(data) < 2 {
		return model.Value{}, fmt.Errorf("short register response: %d bytes", len(data))
	}
	return model.UintValue(model.TypeUInt16, uint64(binary.BigEndian.Uint16(data[:2]))), nil
}

// registerWord renders a value as one 16-bit register word.
func registerWord(v model.Value) (uint16, error) {
	switch v.Type {
	case model.TypeBool:
		if v.Bool() {
			return 1, nil
		}
		return 0, nil
	case model.TypeInt16, model.TypeInt32, model.TypeInt64:
		i := v.Int()
		if i < -32768 || i > 32767 {
			return 0, fmt.Errorf("value %d does not fit a register", i)
		}
		return uint16(i), nil
	case model.TypeUInt16, model.TypeUInt32, model.TypeUInt64:
		u := v.Uint()
		if u > 0xFFFF {
			return 0, fmt.Errorf("value %d does not fit a register", u)
		}
		return uint16(u), nil
	case model.TypeFloat, model.TypeDouble:
		f := v.Float()
		if f != float64(uint16(f)) {
			return 0, fmt.Errorf("value %v does not fit a register", f)
		}
		return uint16(f), nil
	default:
		return 0, fmt.Errorf("cannot write %s to a register", v.Type)
	}
}

func truthy(v model.Value) bool {
	switch v.Type {
	case model.TypeBool:
		return v.Bool()
	case model.TypeInt16, model.TypeInt32, model.TypeInt64:
		return v.Int() != 0
	case model.TypeUInt16, model.TypeUInt32, model.TypeUInt64:
		return v.Uint() != 0
	case model.TypeFloat, model.TypeDouble:
		return v.Float() != 0
	default:
		return false
	}
}
