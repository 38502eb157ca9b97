// internal/driver/sim/sim_test.go
package sim

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fieldgate/internal/model"
	"fieldgate/pkg/driver"
)

func newSim() *Driver {
	return NewDriver(model.DeviceConfig{DeviceID: "sim-1", Type: model.DeviceTypeSimulator}, zap.NewNop())
}

func TestSimulatorLifecycle(t *testing.T) {
	d := newSim()
	ctx := context.Background()

	assert.False(t, d.IsConnected())
	assert.Error(t, d.TestConnection(ctx))

	require.NoError(t, d.Connect(ctx))
	assert.True(t, d.IsConnected())
	assert.NoError(t, d.TestConnection(ctx))

	require.NoError(t, d.Close())
	assert.False(t, d.IsConnected())
}

func TestSimulatorConnectFaultInjection(t *testing.T) {
	d := newSim()
	d.ConnectErr = errors.New("connection refused")

	err := d.Connect(context.Background())
	require.Error(t, err)
	assert.False(t, d.IsConnected())
}

func TestSimulatorBatchResultsPerPoint(t *testing.T) {
	d := newSim()
	ctx := context.Background()
	require.NoError(t, d.Connect(ctx))

	d.Preload("40001", model.UintValue(model.TypeUInt16, 42))

	results := d.ReadBatch(ctx, []string{"40001", "40002"})
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.Equal(t, uint64(42), results[0].Value.Uint())
	assert.False(t, results[1].Success)
	assert.Equal(t, model.QualityBad, results[1].Quality)

	writeResults := d.WriteBatch(ctx, []driver.WritePoint{
		{Address: "40002", Value: model.BoolValue(true)},
	})
	require.Len(t, writeResults, 1)
	assert.True(t, writeResults[0].Success)

	v, err := d.Read(ctx, "40002")
	require.NoError(t, err)
	assert.True(t, v.Bool())
}

func TestSimulatorRejectsIOWhenDisconnected(t *testing.T) {
	d := newSim()
	ctx := context.Background()

	_, err := d.Read(ctx, "40001")
	assert.Error(t, err)

	err = d.Write(ctx, "40001", model.BoolValue(true))
	assert.Error(t, err)
}
