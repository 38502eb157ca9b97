// pkg/driver/interfaces.go
package driver

import (
	"context"

	"fieldgate/internal/model"
)

// Driver is the contract every field-protocol driver must satisfy. The
// gateway is agnostic to how a driver frames bytes on the wire; it only
// orchestrates these operations and tracks state around them.
type Driver interface {
	// Connection management
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	// Data operations
	Read(ctx context.Context, address string) (model.Value, error)
	ReadBatch(ctx context.Context, addresses []string) []PointResult
	Write(ctx context.Context, address string, value model.Value) error
	WriteBatch(ctx context.Context, points []WritePoint) []PointResult

	// TestConnection performs a lightweight probe, typically a harmless read.
	TestConnection(ctx context.Context) error

	// Cleanup
	Close() error
}
