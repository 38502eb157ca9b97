// internal/model/device.go
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// DeviceType identifies the field protocol a device speaks
type DeviceType string

const (
	DeviceTypeModbusTCP DeviceType = "MODBUS_TCP"
	DeviceTypeModbusRTU DeviceType = "MODBUS_RTU"
	DeviceTypeS7        DeviceType = "S7"
	DeviceTypeFINS      DeviceType = "FINS"
	DeviceTypeMC        DeviceType = "MC"
	DeviceTypeSimulator DeviceType = "SIMULATOR"
	DeviceTypeUnknown   DeviceType = "UNKNOWN"
)

// ConnectionState represents the current state of a device connection
type ConnectionState string

const (
	StateDisconnected ConnectionState = "DISCONNECTED"
	StateConnecting   ConnectionState = "CONNECTING"
	StateConnected    ConnectionState = "CONNECTED"
	StateError        ConnectionState = "ERROR"
	StateTimeout      ConnectionState = "TIMEOUT"
)

// AccessMode defines how a data point may be accessed within a batch
type AccessMode string

const (
	AccessRead      AccessMode = "READ"
	AccessWrite     AccessMode = "WRITE"
	AccessReadWrite AccessMode = "READ_WRITE"
)

// DeviceConfig describes one managed device. Once a device connection is
// built from it the config is treated as immutable; reconfiguring requires
// remove and re-add.
type DeviceConfig struct {
	DeviceID string     `json:"deviceId" mapstructure:"device_id"`
	Type     DeviceType `json:"type" mapstructure:"type"`
	Enabled  bool       `json:"enabled" mapstructure:"enabled"`

	// Networked protocols (Modbus TCP, S7, FINS, MC)
	Host    string        `json:"host,omitempty" mapstructure:"host"`
	Port    int           `json:"port,omitempty" mapstructure:"port"`
	Timeout time.Duration `json:"timeout,omitempty" mapstructure:"timeout"`

	// Modbus station / slave id
	Station uint8 `json:"station,omitempty" mapstructure:"station"`

	// Serial parameters (Modbus RTU)
	SerialPort string `json:"serialPort,omitempty" mapstructure:"serial_port"`
	BaudRate   int    `json:"baudRate,omitempty" mapstructure:"baud_rate"`
	DataBits   int    `json:"dataBits,omitempty" mapstructure:"data_bits"`
	StopBits   int    `json:"stopBits,omitempty" mapstructure:"stop_bits"`
	Parity     string `json:"parity,omitempty" mapstructure:"parity"`

	// Rack/slot addressing (S7)
	Rack int `json:"rack,omitempty" mapstructure:"rack"`
	Slot int `json:"slot,omitempty" mapstructure:"slot"`

	// Network/node addressing (FINS, MC)
	Network int `json:"network,omitempty" mapstructure:"network"`
	Node    int `json:"node,omitempty" mapstructure:"node"`
}

// Validate checks the type-specific required fields.
func (c *DeviceConfig) Validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("deviceId is required")
	}

	switch c.Type {
	case DeviceTypeModbusTCP, DeviceTypeS7, DeviceTypeFINS, DeviceTypeMC:
		if c.Host == "" {
			return fmt.Errorf("host is required for device type %s", c.Type)
		}
		if c.Port < 1 || c.Port > 65535 {
			return fmt.Errorf("port must be in 1-65535, got %d", c.Port)
		}
	case DeviceTypeModbusRTU:
		if c.SerialPort == "" {
			return fmt.Errorf("serialPort is required for device type %s", c.Type)
		}
		// Zero means the driver default; only negative values are invalid.
		if c.BaudRate < 0 {
			return fmt.Errorf("baudRate must not be negative, got %d", c.BaudRate)
		}
	case DeviceTypeSimulator:
		// No transport parameters required.
	case DeviceTypeUnknown, "":
		return fmt.Errorf("device type is required")
	default:
		return fmt.Errorf("unsupported device type: %s", c.Type)
	}

	if c.Type == DeviceTypeS7 {
		if c.Rack < 0 || c.Rack > 7 {
			return fmt.Errorf("rack must be in 0-7, got %d", c.Rack)
		}
		if c.Slot < 0 || c.Slot > 31 {
			return fmt.Errorf("slot must be in 0-31, got %d", c.Slot)
		}
	}

	if c.Type == DeviceTypeFINS || c.Type == DeviceTypeMC {
		if c.Network < 0 || c.Network > 255 {
			return fmt.Errorf("network must be in 0-255, got %d", c.Network)
		}
		if c.Node < 0 || c.Node > 255 {
			return fmt.Errorf("node must be in 0-255, got %d", c.Node)
		}
	}

	return nil
}

// Address returns the transport address for networked device types.
func (c *DeviceConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StatusChange is raised on every device state transition
type StatusChange struct {
	DeviceID  string          `json:"deviceId"`
	OldState  ConnectionState `json:"oldState"`
	NewState  ConnectionState `json:"newState"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// DeviceStatistics holds cumulative per-device I/O counters
type DeviceStatistics struct {
	ReadCount         int64         `json:"readCount"`
	WriteCount        int64         `json:"writeCount"`
	ReadSuccessCount  int64         `json:"readSuccessCount"`
	WriteSuccessCount int64         `json:"writeSuccessCount"`
	AverageLatency    time.Duration `json:"-"`
	MaxLatency        time.Duration `json:"-"`
	BytesTransferred  int64         `json:"bytesTransferred"`
}

// MarshalJSON reports the latencies in milliseconds; durations would
// otherwise serialize as nanoseconds under the *Ms field names.
func (s DeviceStatistics) MarshalJSON() ([]byte, error) {
	type wire struct {
		ReadCount         int64   `json:"readCount"`
		WriteCount        int64   `json:"writeCount"`
		ReadSuccessCount  int64   `json:"readSuccessCount"`
		WriteSuccessCount int64   `json:"writeSuccessCount"`
		AverageLatencyMs  float64 `json:"averageLatencyMs"`
		MaxLatencyMs      float64 `json:"maxLatencyMs"`
		BytesTransferred  int64   `json:"bytesTransferred"`
	}
	return json.Marshal(wire{
		ReadCount:         s.ReadCount,
		WriteCount:        s.WriteCount,
		ReadSuccessCount:  s.ReadSuccessCount,
		WriteSuccessCount: s.WriteSuccessCount,
		AverageLatencyMs:  float64(s.AverageLatency) / float64(time.Millisecond),
		MaxLatencyMs:      float64(s.MaxLatency) / float64(time.Millisecond),
		BytesTransferred:  s.BytesTransferred,
	})
}

// DeviceStatus is a read-only snapshot of one device connection
type DeviceStatus struct {
	DeviceID          string           `json:"deviceId"`
	Type              DeviceType       `json:"type"`
	State             ConnectionState  `json:"state"`
	Enabled           bool             `json:"enabled"`
	LastCommunication *time.Time       `json:"lastCommunication,omitempty"`
	LastError         string           `json:"lastError,omitempty"`
	Statistics        DeviceStatistics `json:"statistics"`
}
