// internal/driver/modbus/address.go
package modbus

import (
	"fmt"
	"strconv"

	"go.bug.st/serial"
)

// Table identifies which Modbus data table an address refers to
type Table int

const (
	TableHolding Table = iota
	TableInput
	TableCoil
	TableDiscrete
)

// Register is a parsed data-point address
type Register struct {
	Table  Table
	Offset uint16
}

// ParseAddress parses the classic 5-digit Modbus addressing convention:
// 0xxxx coils, 1xxxx discrete inputs, 3xxxx input registers, 4xxxx holding
// registers, all one-based. Shorter plain numbers are zero-based holding
// register offsets.
func ParseAddress(address string) (Register, error) {
	n, err := strconv.ParseUint(address, 10, 32)
	if err != nil {
		return Register{}, fmt.Errorf("invalid modbus address %q", address)
	}

	if len(address) < 5 {
		if n > 0xFFFF {
			return Register{}, fmt.Errorf("modbus address %q out of range", address)
		}
		return Register{Table: TableHolding, Offset: uint16(n)}, nil
	}

	table := n / 10000
	offset := n % 10000
	if offset == 0 {
		return Register{}, fmt.Errorf("modbus address %q is one-based", address)
	}

	switch table {
	case 0:
		return Register{Table: TableCoil, Offset: uint16(offset - 1)}, nil
	case 1:
		return Register{Table: TableDiscrete, Offset: uint16(offset - 1)}, nil
	case 3:
		return Register{Table: TableInput, Offset: uint16(offset - 1)}, nil
	case 4:
		return Register{Table: TableHolding, Offset: uint16(offset - 1)}, nil
	default:
		return Register{}, fmt.Errorf("modbus address %q names an unknown table", address)
	}
}

// AvailableSerialPorts lists the serial ports the host exposes. Used when
// validating RTU device configs before a connection is attempted.
func AvailableSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	return ports, nil
}
