// internal/processor/processor_test.go
package processor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fieldgate/internal/device"
	internalDriver "fieldgate/internal/driver"
	"fieldgate/internal/model"
	"fieldgate/internal/protocol"
	"fieldgate/pkg/driver"
)

func newTestProcessor(t *testing.T) (*Processor, *device.Manager) {
	t.Helper()
	logger := zap.NewNop()
	registry := internalDriver.NewRegistry(logger)
	internalDriver.RegisterDefaultDrivers(registry, logger)
	manager := device.NewManager(registry, 0, logger)
	proc := NewProcessor(manager, nil, "1.0", protocol.MaxBatchSize, logger)
	return proc, manager
}

func makeRequest(t *testing.T, command string, data interface{}) []byte {
	t.Helper()
	req := protocol.Request{
		Version:   "1.0",
		MessageID: "test-req-0001",
		Timestamp: time.Now(),
		Command:   command,
	}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		req.Data = raw
	}
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	return payload
}

func addSimDevice(t *testing.T, m *device.Manager, id string, connect bool) {
	t.Helper()
	cfg := model.DeviceConfig{DeviceID: id, Type: model.DeviceTypeSimulator, Enabled: connect}
	require.NoError(t, m.AddDevice(context.Background(), cfg))
}

func TestProcessEchoesMessageID(t *testing.T) {
	proc, _ := newTestProcessor(t)

	resp := proc.Process(context.Background(), makeRequest(t, protocol.CmdListConnections, nil))
	assert.True(t, resp.Success)
	assert.Equal(t, "test-req-0001", resp.MessageID)
	assert.Equal(t, "1.0", resp.Version)
	assert.Nil(t, resp.Error)
}

func TestProcessUnknownCommandListsCommandSet(t *testing.T) {
	proc, _ := newTestProcessor(t)

	resp := proc.Process(context.Background(), makeRequest(t, "rebootEverything", nil))
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeUnknownCommand, resp.Error.Code)
	require.Len(t, resp.Error.Details, 1)
	assert.Contains(t, resp.Error.Details[0], protocol.CmdReadBatch)
	assert.Contains(t, resp.Error.Details[0], protocol.CmdConnect)
}

func TestProcessMalformedEnvelope(t *testing.T) {
	proc, _ := newTestProcessor(t)

	resp := proc.Process(context.Background(), []byte(`{"version": nope`))
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeMalformedMessage, resp.Error.Code)
}

func TestProcessRejectsWrongVersion(t *testing.T) {
	proc, _ := newTestProcessor(t)

	req := protocol.Request{
		Version:   "9.9",
		MessageID: "test-req-0001",
		Timestamp: time.Now(),
		Command:   protocol.CmdStatus,
	}
	payload, err := json.Marshal(req)
	require.NoError(t, err)

	resp := proc.Process(context.Background(), payload)
	require.False(t, resp.Success)
	assert.Equal(t, protocol.CodeValidationFailed, resp.Error.Code)
	assert.Equal(t, "test-req-0001", resp.MessageID, "message id echoed even on failure")
}

func TestConnectRegistersAndConnectsNewDevice(t *testing.T) {
	proc, manager := newTestProcessor(t)

	cfg := model.DeviceConfig{DeviceID: "sim-1", Type: model.DeviceTypeSimulator, Enabled: true}
	resp := proc.Process(context.Background(), makeRequest(t, protocol.CmdConnect, cfg))
	require.True(t, resp.Success, "error: %+v", resp.Error)

	status, ok := resp.Data.(model.DeviceStatus)
	require.True(t, ok)
	assert.Equal(t, model.StateConnected, status.State)
	assert.True(t, manager.Exists("sim-1"))

	// Connecting an already known, connected device is idempotent.
	resp = proc.Process(context.Background(), makeRequest(t, protocol.CmdConnect, cfg))
	assert.True(t, resp.Success)
}

func TestConnectConcurrentSameNewDevice(t *testing.T) {
	proc, manager := newTestProcessor(t)

	cfg := model.DeviceConfig{DeviceID: "sim-race", Type: model.DeviceTypeSimulator, Enabled: true}
	payload := makeRequest(t, protocol.CmdConnect, cfg)

	// Every racer must get the same idempotent success a known id gets,
	// whichever one wins the registration.
	const racers = 16
	responses := make(chan protocol.Response, racers)
	for i := 0; i < racers; i++ {
		go func() {
			responses <- proc.Process(context.Background(), payload)
		}()
	}

	for i := 0; i < racers; i++ {
		resp := <-responses
		require.True(t, resp.Success, "error: %+v", resp.Error)
	}
	assert.True(t, manager.Exists("sim-race"))
	assert.Equal(t, 1, manager.Count())
}

func TestConnectRejectsInvalidConfig(t *testing.T) {
	proc, _ := newTestProcessor(t)

	cfg := model.DeviceConfig{DeviceID: "tcp-1", Type: model.DeviceTypeModbusTCP}
	resp := proc.Process(context.Background(), makeRequest(t, protocol.CmdConnect, cfg))
	require.False(t, resp.Success)
	assert.Equal(t, protocol.CodeInvalidDeviceConfig, resp.Error.Code)
	assert.Equal(t, "tcp-1", resp.Error.ResourceID)
}

func TestDisconnectUnknownDevice(t *testing.T) {
	proc, _ := newTestProcessor(t)

	resp := proc.Process(context.Background(), makeRequest(t, protocol.CmdDisconnect, map[string]string{"deviceId": "ghost"}))
	require.False(t, resp.Success)
	assert.Equal(t, protocol.CodeDeviceNotFound, resp.Error.Code)
	assert.False(t, resp.Error.Retryable)
}

func TestReadDisconnectedDeviceEndToEnd(t *testing.T) {
	proc, manager := newTestProcessor(t)
	addSimDevice(t, manager, "sim-1", false)

	resp := proc.Process(context.Background(), makeRequest(t, protocol.CmdRead, map[string]interface{}{
		"deviceId":  "sim-1",
		"addresses": []string{"40001", "40002"},
	}))

	// The envelope succeeds; the failure is carried per point.
	require.True(t, resp.Success)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)

	results := data["results"].([]driver.PointResult)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.Success)
		assert.Equal(t, model.QualityNotConnected, r.Quality)
	}
	assert.Equal(t, 0, data["successCount"])
	assert.Equal(t, 2, data["failureCount"])
}

func TestWriteThenReadThroughProtocol(t *testing.T) {
	proc, manager := newTestProcessor(t)
	addSimDevice(t, manager, "sim-1", true)

	resp := proc.Process(context.Background(), makeRequest(t, protocol.CmdWrite, map[string]interface{}{
		"deviceId": "sim-1",
		"points": []map[string]interface{}{
			{"address": "40001", "type": "UINT16", "value": 1234},
		},
	}))
	require.True(t, resp.Success, "error: %+v", resp.Error)

	resp = proc.Process(context.Background(), makeRequest(t, protocol.CmdRead, map[string]interface{}{
		"deviceId":  "sim-1",
		"addresses": []string{"40001"},
	}))
	require.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	results := data["results"].([]driver.PointResult)
	require.Len(t, results, 1)
	require.True(t, results[0].Success)
	assert.Equal(t, uint64(1234), results[0].Value.Uint())
}

func TestWriteMissingValueFailsFast(t *testing.T) {
	proc, manager := newTestProcessor(t)
	addSimDevice(t, manager, "sim-1", true)

	resp := proc.Process(context.Background(), makeRequest(t, protocol.CmdWrite, map[string]interface{}{
		"deviceId": "sim-1",
		"points": []map[string]interface{}{
			{"address": "40001", "type": "UINT16", "value": 1},
			{"address": "40002", "type": "UINT16"},
		},
	}))
	require.False(t, resp.Success)
	assert.Equal(t, protocol.CodeMissingValue, resp.Error.Code)

	// Fail-fast means the valid first point was never written either.
	readResp := proc.Process(context.Background(), makeRequest(t, protocol.CmdRead, map[string]interface{}{
		"deviceId":  "sim-1",
		"addresses": []string{"40001"},
	}))
	require.True(t, readResp.Success)
	results := readResp.Data.(map[string]interface{})["results"].([]driver.PointResult)
	assert.False(t, results[0].Success, "no device I/O before the whole batch validates")
}

func TestWriteConversionFailureFailsFast(t *testing.T) {
	proc, manager := newTestProcessor(t)
	addSimDevice(t, manager, "sim-1", true)

	resp := proc.Process(context.Background(), makeRequest(t, protocol.CmdWrite, map[string]interface{}{
		"deviceId": "sim-1",
		"points": []map[string]interface{}{
			{"address": "40001", "type": "INT16", "value": "70000"},
		},
	}))
	require.False(t, resp.Success)
	assert.Equal(t, protocol.CodeConversionFailed, resp.Error.Code)
}

func TestBatchSizeLimit(t *testing.T) {
	proc, manager := newTestProcessor(t)
	addSimDevice(t, manager, "sim-1", true)

	addresses := make([]string, protocol.MaxBatchSize+1)
	for i := range addresses {
		addresses[i] = "40001"
	}

	resp := proc.Process(context.Background(), makeRequest(t, protocol.CmdRead, map[string]interface{}{
		"deviceId":  "sim-1",
		"addresses": addresses,
	}))
	require.False(t, resp.Success)
	assert.Equal(t, protocol.CodeBatchTooLarge, resp.Error.Code)
	require.Len(t, resp.Error.Details, 1)
	assert.Contains(t, resp.Error.Details[0], "101")
	assert.Contains(t, resp.Error.Details[0], "100")
}

func TestReadBatchCoercesToRequestedType(t *testing.T) {
	proc, manager := newTestProcessor(t)
	addSimDevice(t, manager, "sim-1", true)

	proc.Process(context.Background(), makeRequest(t, protocol.CmdWrite, map[string]interface{}{
		"deviceId": "sim-1",
		"points": []map[string]interface{}{
			{"address": "40001", "type": "UINT16", "value": 1234},
		},
	}))

	resp := proc.Process(context.Background(), makeRequest(t, protocol.CmdReadBatch, map[string]interface{}{
		"deviceId": "sim-1",
		"points": []map[string]interface{}{
			{"address": "40001", "type": "STRING"},
		},
	}))
	require.True(t, resp.Success, "error: %+v", resp.Error)

	result, ok := resp.Data.(batchResult)
	require.True(t, ok)
	require.Len(t, result.ReadResults, 1)
	require.True(t, result.ReadResults[0].Success)
	assert.Equal(t, model.TypeString, result.ReadResults[0].Value.Type)
	assert.Equal(t, "1234", result.ReadResults[0].Value.Interface())
}

func TestReadWritePartitionsByAccessMode(t *testing.T) {
	proc, manager := newTestProcessor(t)
	addSimDevice(t, manager, "sim-1", true)

	proc.Process(context.Background(), makeRequest(t, protocol.CmdWrite, map[string]interface{}{
		"deviceId": "sim-1",
		"points": []map[string]interface{}{
			{"address": "40001", "type": "UINT16", "value": 1},
		},
	}))

	resp := proc.Process(context.Background(), makeRequest(t, protocol.CmdReadBatch, map[string]interface{}{
		"deviceId":  "sim-1",
		"operation": "readWrite",
		"points": []map[string]interface{}{
			{"address": "40001", "access": "READ"},
			{"address": "40002", "access": "WRITE", "type": "UINT16", "value": 2},
		},
	}))
	require.True(t, resp.Success, "error: %+v", resp.Error)

	result := resp.Data.(batchResult)
	assert.Len(t, result.ReadResults, 1)
	assert.Len(t, result.WriteResults, 1)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 0, result.FailureCount)
}

func TestLegacyAliasRoutesToCanonicalHandler(t *testing.T) {
	proc, manager := newTestProcessor(t)
	addSimDevice(t, manager, "sim-1", false)

	resp := proc.Process(context.Background(), makeRequest(t, "read_data", map[string]interface{}{
		"deviceId":  "sim-1",
		"addresses": []string{"40001"},
	}))
	require.True(t, resp.Success)
	results := resp.Data.(map[string]interface{})["results"].([]driver.PointResult)
	require.Len(t, results, 1)
	assert.Equal(t, model.QualityNotConnected, results[0].Quality)
}

func TestServerStatusWithoutServerInfo(t *testing.T) {
	proc, manager := newTestProcessor(t)
	addSimDevice(t, manager, "sim-1", true)
	addSimDevice(t, manager, "sim-2", false)

	resp := proc.Process(context.Background(), makeRequest(t, protocol.CmdServerStatus, nil))
	require.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "1.0", data["version"])
	assert.Equal(t, 2, data["deviceCount"])

	byState := data["devicesByState"].(map[string]int)
	assert.Equal(t, 1, byState[string(model.StateConnected)])
	assert.Equal(t, 1, byState[string(model.StateDisconnected)])
}

func TestProtocolInfo(t *testing.T) {
	proc, _ := newTestProcessor(t)

	resp := proc.Process(context.Background(), makeRequest(t, protocol.CmdProtocolInfo, nil))
	require.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "1.0", data["version"])
	assert.Equal(t, protocol.KnownCommands(), data["commands"])
	assert.Equal(t, protocol.LegacyAliases(), data["legacyAliases"])
	assert.Equal(t, protocol.MaxBatchSize, data["maxBatchSize"])
}

func TestValidateConnectionCommand(t *testing.T) {
	proc, _ := newTestProcessor(t)

	resp := proc.Process(context.Background(), makeRequest(t, protocol.CmdValidateConnection, model.DeviceConfig{
		DeviceID: "sim-1",
		Type:     model.DeviceTypeSimulator,
	}))
	require.True(t, resp.Success)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, true, data["valid"])

	resp = proc.Process(context.Background(), makeRequest(t, protocol.CmdValidateConnection, model.DeviceConfig{
		DeviceID: "s7-1",
		Type:     model.DeviceTypeS7,
		Host:     "10.0.0.5",
		Port:     102,
	}))
	require.False(t, resp.Success)
	assert.Equal(t, protocol.CodeInvalidDeviceConfig, resp.Error.Code)
}

func TestStatusCommandSingleAndAll(t *testing.T) {
	proc, manager := newTestProcessor(t)
	addSimDevice(t, manager, "sim-1", false)
	addSimDevice(t, manager, "sim-2", false)

	resp := proc.Process(context.Background(), makeRequest(t, protocol.CmdStatus, map[string]string{"deviceId": "sim-1"}))
	require.True(t, resp.Success)
	status := resp.Data.(model.DeviceStatus)
	assert.Equal(t, "sim-1", status.DeviceID)

	resp = proc.Process(context.Background(), makeRequest(t, protocol.CmdStatus, nil))
	require.True(t, resp.Success)
	all := resp.Data.(map[string]interface{})["devices"].([]model.DeviceStatus)
	assert.Len(t, all, 2)

	resp = proc.Process(context.Background(), makeRequest(t, protocol.CmdStatus, map[string]string{"deviceId": "ghost"}))
	require.False(t, resp.Success)
	assert.Equal(t, protocol.CodeDeviceNotFound, resp.Error.Code)
}
