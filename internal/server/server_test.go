// internal/server/server_test.go
package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fieldgate/internal/config"
	"fieldgate/internal/device"
	internalDriver "fieldgate/internal/driver"
	"fieldgate/internal/processor"
	"fieldgate/internal/protocol"
)

func startTestServer(t *testing.T, ipcCfg *config.IPCConfig) *Server {
	t.Helper()
	logger := zap.NewNop()

	registry := internalDriver.NewRegistry(logger)
	internalDriver.RegisterDefaultDrivers(registry, logger)
	manager := device.NewManager(registry, 0, logger)

	proc := processor.NewProcessor(manager, nil, ipcCfg.ProtocolVersion, ipcCfg.MaxBatchSize, logger)

	cfg := &config.ServerConfig{
		Host:            "127.0.0.1",
		Port:            0,
		MaxConnections:  4,
		WriteTimeout:    time.Second,
		CleanupInterval: time.Second,
		ShutdownWait:    time.Second,
	}

	srv := NewServer(cfg, ipcCfg, NewClientRegistry(logger), proc, logger)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(srv.Stop)
	return srv
}

func defaultIPCConfig() *config.IPCConfig {
	return &config.IPCConfig{
		ProtocolVersion: "1.0",
		MaxMessageSize:  protocol.MaxMessageSize,
		MaxBatchSize:    protocol.MaxBatchSize,
	}
}

func sendRequest(t *testing.T, conn net.Conn, reader *bufio.Reader, req protocol.Request) protocol.Response {
	t.Helper()
	payload, err := json.Marshal(req)
	require.NoError(t, err)

	_, err = conn.Write(append(payload, '\n'))
	require.NoError(t, err)

	line, err := reader.ReadString('\n')
	require.NoError(t, err)

	var resp protocol.Response
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	return resp
}

func TestServerRoundTrip(t *testing.T) {
	srv := startTestServer(t, defaultIPCConfig())

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	resp := sendRequest(t, conn, reader, protocol.Request{
		Version:   "1.0",
		MessageID: "roundtrip-01",
		Timestamp: time.Now(),
		Command:   protocol.CmdListConnections,
	})

	assert.True(t, resp.Success)
	assert.Equal(t, "roundtrip-01", resp.MessageID)
}

func TestServerHandlesMultipleMessagesPerConnection(t *testing.T) {
	srv := startTestServer(t, defaultIPCConfig())

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	for i := 0; i < 3; i++ {
		resp := sendRequest(t, conn, reader, protocol.Request{
			Version:   "1.0",
			MessageID: "multi-msg-01",
			Timestamp: time.Now(),
			Command:   protocol.CmdProtocolInfo,
		})
		assert.True(t, resp.Success)
	}
}

func TestServerAnswersMalformedJSONThenCloses(t *testing.T) {
	srv := startTestServer(t, defaultIPCConfig())

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	_, err = conn.Write([]byte("{not json at all\n"))
	require.NoError(t, err)

	line, err := reader.ReadString('\n')
	require.NoError(t, err)

	var resp protocol.Response
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	require.False(t, resp.Success)
	assert.Equal(t, protocol.CodeMalformedMessage, resp.Error.Code)

	// Framing is unrecoverable, the server drops the connection.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = reader.ReadString('\n')
	assert.Error(t, err)
}

func TestServerRejectsOversizeMessageWithoutParsing(t *testing.T) {
	ipcCfg := defaultIPCConfig()
	ipcCfg.MaxMessageSize = 64
	srv := startTestServer(t, ipcCfg)

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	resp := sendRequest(t, conn, reader, protocol.Request{
		Version:   "1.0",
		MessageID: "oversize-0001",
		Timestamp: time.Now(),
		Command:   protocol.CmdListConnections,
	})

	require.False(t, resp.Success)
	assert.Equal(t, protocol.CodeMessageTooLarge, resp.Error.Code)
}

func TestServerCutsOffOversizeStreamDuringRead(t *testing.T) {
	ipcCfg := defaultIPCConfig()
	ipcCfg.MaxMessageSize = 64
	srv := startTestServer(t, ipcCfg)

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	// A single message far beyond the limit. The server must answer from
	// the leading bytes alone, without buffering the rest.
	payload := append([]byte(`{"filler":"`), bytes.Repeat([]byte("x"), 8192)...)
	payload = append(payload, []byte(`"}`+"\n")...)
	_, err = conn.Write(payload)
	require.NoError(t, err)

	line, err := reader.ReadString('\n')
	require.NoError(t, err)

	var resp protocol.Response
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	require.False(t, resp.Success)
	assert.Equal(t, protocol.CodeMessageTooLarge, resp.Error.Code)

	// Mid-message framing is unrecoverable, the connection is dropped.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = reader.ReadString('\n')
	assert.Error(t, err)
}

func TestServerStopClosesClients(t *testing.T) {
	srv := startTestServer(t, defaultIPCConfig())

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	resp := sendRequest(t, conn, reader, protocol.Request{
		Version:   "1.0",
		MessageID: "shutdown-0001",
		Timestamp: time.Now(),
		Command:   protocol.CmdServerStatus,
	})
	require.True(t, resp.Success)

	srv.Stop()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = reader.ReadString('\n')
	assert.Error(t, err, "server shutdown closes the client socket")
}
