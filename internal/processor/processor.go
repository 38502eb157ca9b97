// internal/processor/processor.go
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"fieldgate/internal/device"
	"fieldgate/internal/model"
	"fieldgate/internal/protocol"
)

// ServerInfo is the slice of server state the serverStatus command reports.
type ServerInfo interface {
	ActiveConnections() int
	LifetimeConnections() int64
	MessagesProcessed() int64
	Uptime() time.Duration
}

// Processor validates, routes and answers IPC requests. It never returns
// an error and never panics outward: every outcome is a Response.
type Processor struct {
	devices  *device.Manager
	info     ServerInfo
	version  string
	maxBatch int
	logger   *zap.Logger
}

// NewProcessor creates a message processor.
func NewProcessor(devices *device.Manager, info ServerInfo, version string, maxBatch int, logger *zap.Logger) *Processor {
	if maxBatch <= 0 {
		maxBatch = protocol.MaxBatchSize
	}
	return &Processor{
		devices:  devices,
		info:     info,
		version:  version,
		maxBatch: maxBatch,
		logger:   logger,
	}
}

// Process handles one raw request payload.
func (p *Processor) Process(ctx context.Context, raw []byte) (resp protocol.Response) {
	start := time.Now()

	var req protocol.Request
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Panic while processing request",
				zap.Any("panic", r),
				zap.String("command", req.Command),
			)
			resp = p.fail(req.MessageID, start, protocol.NewError(
				protocol.CodeInternalError,
				protocol.ErrorTypeInternal,
				"internal error while processing request",
				fmt.Sprintf("%T: %v", r, r),
			))
		}
	}()

	if err := json.Unmarshal(raw, &req); err != nil {
		return p.fail("", start, protocol.NewError(
			protocol.CodeMalformedMessage,
			protocol.ErrorTypeValidation,
			"malformed request envelope",
			err.Error(),
		))
	}

	if errResp := req.Validate(p.version, time.Now()); errResp != nil {
		return p.fail(req.MessageID, start, errResp)
	}

	command, ok := protocol.CanonicalCommand(req.Command)
	if !ok {
		return p.fail(req.MessageID, start, protocol.NewError(
			protocol.CodeUnknownCommand,
			protocol.ErrorTypeValidation,
			fmt.Sprintf("command not found: %s", req.Command),
			"known commands: "+strings.Join(protocol.KnownCommands(), ", "),
		))
	}

	data, errResp := p.route(ctx, command, req.Data)
	if errResp != nil {
		return p.fail(req.MessageID, start, errResp)
	}
	return p.ok(req.MessageID, start, data)
}

func (p *Processor) route(ctx context.Context, command string, payload json.RawMessage) (interface{}, *protocol.ErrorResponse) {
	switch command {
	case protocol.CmdConnect:
		return p.handleConnect(ctx, payload)
	case protocol.CmdDisconnect:
		return p.handleDisconnect(ctx, payload)
	case protocol.CmdStatus:
		return p.handleStatus(payload)
	case protocol.CmdListConnections:
		return p.handleListConnections()
	case protocol.CmdValidateConnection:
		return p.handleValidateConnection(payload)
	case protocol.CmdRead:
		return p.handleRead(ctx, payload)
	case protocol.CmdWrite:
		return p.handleWrite(ctx, payload)
	case protocol.CmdReadBatch:
		return p.handleBatch(ctx, payload, model.AccessRead)
	case protocol.CmdWriteBatch:
		return p.handleBatch(ctx, payload, model.AccessWrite)
	case protocol.CmdServerStatus:
		return p.handleServerStatus()
	case protocol.CmdProtocolInfo:
		return p.handleProtocolInfo()
	default:
		// CanonicalCommand already filtered unknown names.
		return nil, protocol.NewError(
			protocol.CodeUnknownCommand,
			protocol.ErrorTypeValidation,
			fmt.Sprintf("command not found: %s", command),
		)
	}
}

// Request payloads

type deviceRequest struct {
	DeviceID string `json:"deviceId"`
}

type readRequest struct {
	DeviceID  string   `json:"deviceId"`
	Addresses []string `json:"addresses"`
}

type writeRequest struct {
	DeviceID string       `json:"deviceId"`
	Points   []writePoint `json:"points"`
}

type writePoint struct {
	Address string         `json:"address"`
	Type    model.DataType `json:"type"`
	Value   interface{}    `json:"value,omitempty"`
}

// Handlers

// handleConnect registers the device when its id is new, then connects.
// Connecting a known, already-connected device is a no-op success.
func (p *Processor) handleConnect(ctx context.Context, payload json.RawMessage) (interface{}, *protocol.ErrorResponse) {
	var cfg model.DeviceConfig
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return nil, protocol.NewError(
			protocol.CodeInvalidDeviceConfig,
			protocol.ErrorTypeValidation,
			"invalid connect payload",
			err.Error(),
		)
	}

	if !p.devices.Exists(cfg.DeviceID) {
		if err := cfg.Validate(); err != nil {
			return nil, protocol.NewError(
				protocol.CodeInvalidDeviceConfig,
				protocol.ErrorTypeConfiguration,
				"invalid device configuration",
				err.Error(),
			).WithResource(cfg.DeviceID)
		}
		// A concurrent connect for the same new id may win the
		// registration; the loser falls through to the idempotent
		// connect like any known id.
		if err := p.devices.AddDevice(ctx, cfg); err != nil && !errors.Is(err, device.ErrDeviceExists) {
			return nil, protocol.NewError(
				protocol.CodeDriverUnavailable,
				protocol.ErrorTypeConfiguration,
				"could not register device",
				err.Error(),
			).WithResource(cfg.DeviceID)
		}
	}

	if err := p.devices.ConnectDevice(ctx, cfg.DeviceID); err != nil {
		return nil, connectError(cfg.DeviceID, err)
	}

	status, err := p.devices.GetStatus(cfg.DeviceID)
	if err != nil {
		return nil, notFound(cfg.DeviceID)
	}
	return status, nil
}

func (p *Processor) handleDisconnect(ctx context.Context, payload json.RawMessage) (interface{}, *protocol.ErrorResponse) {
	var req deviceRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.DeviceID == "" {
		return nil, badPayload("deviceId is required", err)
	}

	if !p.devices.Exists(req.DeviceID) {
		return nil, notFound(req.DeviceID)
	}

	if err := p.devices.DisconnectDevice(ctx, req.DeviceID); err != nil {
		return nil, protocol.NewError(
			protocol.CodeDisconnectFailed,
			protocol.ErrorTypeNetwork,
			"disconnect failed",
			err.Error(),
		).WithResource(req.DeviceID)
	}

	status, err := p.devices.GetStatus(req.DeviceID)
	if err != nil {
		return nil, notFound(req.DeviceID)
	}
	return status, nil
}

// handleStatus returns one device snapshot, or all when no id is given.
func (p *Processor) handleStatus(payload json.RawMessage) (interface{}, *protocol.ErrorResponse) {
	var req deviceRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, badPayload("invalid status payload", err)
		}
	}

	if req.DeviceID == "" {
		return map[string]interface{}{"devices": p.devices.GetAllStatus()}, nil
	}

	status, err := p.devices.GetStatus(req.DeviceID)
	if err != nil {
		return nil, notFound(req.DeviceID)
	}
	return status, nil
}

func (p *Processor) handleListConnections() (interface{}, *protocol.ErrorResponse) {
	statuses := p.devices.GetAllStatus()
	return map[string]interface{}{
		"count":   len(statuses),
		"devices": statuses,
	}, nil
}

func (p *Processor) handleValidateConnection(payload json.RawMessage) (interface{}, *protocol.ErrorResponse) {
	var cfg model.DeviceConfig
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return nil, badPayload("invalid device configuration payload", err)
	}

	if err := p.devices.ValidateConfig(cfg); err != nil {
		return nil, protocol.NewError(
			protocol.CodeInvalidDeviceConfig,
			protocol.ErrorTypeConfiguration,
			"device configuration is invalid",
			err.Error(),
		).WithResource(cfg.DeviceID)
	}

	return map[string]interface{}{"valid": true, "deviceId": cfg.DeviceID}, nil
}

func (p *Processor) handleRead(ctx context.Context, payload json.RawMessage) (interface{}, *protocol.ErrorResponse) {
	var req readRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.DeviceID == "" {
		return nil, badPayload("deviceId is required", err)
	}
	if len(req.Addresses) == 0 {
		return nil, badPayload("addresses must not be empty", nil)
	}
	if errResp := p.checkBatchSize(len(req.Addresses)); errResp != nil {
		return nil, errResp
	}

	results := p.devices.ReadDeviceData(ctx, req.DeviceID, req.Addresses)
	return resultPayload(req.DeviceID, results), nil
}

// handleWrite converts and checks every point before any device I/O: a
// missing value or a failed conversion rejects the whole request.
func (p *Processor) handleWrite(ctx context.Context, payload json.RawMessage) (interface{}, *protocol.ErrorResponse) {
	var req writeRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.DeviceID == "" {
		return nil, badPayload("deviceId is required", err)
	}
	if len(req.Points) == 0 {
		return nil, badPayload("points must not be empty", nil)
	}
	if errResp := p.checkBatchSize(len(req.Points)); errResp != nil {
		return nil, errResp
	}

	points, errResp := convertWritePoints(req.Points)
	if errResp != nil {
		return nil, errResp
	}

	results := p.devices.WriteDeviceData(ctx, req.DeviceID, points)
	return resultPayload(req.DeviceID, results), nil
}

func (p *Processor) handleServerStatus() (interface{}, *protocol.ErrorResponse) {
	byState := make(map[string]int)
	for _, status := range p.devices.GetAllStatus() {
		byState[string(status.State)]++
	}

	data := map[string]interface{}{
		"version":        p.version,
		"deviceCount":    p.devices.Count(),
		"devicesByState": byState,
	}
	if p.info != nil {
		data["uptimeSeconds"] = p.info.Uptime().Seconds()
		data["activeConnections"] = p.info.ActiveConnections()
		data["totalConnections"] = p.info.LifetimeConnections()
		data["messagesProcessed"] = p.info.MessagesProcessed()
	}
	return data, nil
}

func (p *Processor) handleProtocolInfo() (interface{}, *protocol.ErrorResponse) {
	return map[string]interface{}{
		"version":           p.version,
		"commands":          protocol.KnownCommands(),
		"legacyAliases":     protocol.LegacyAliases(),
		"maxMessageSize":    protocol.MaxMessageSize,
		"maxBatchSize":      p.maxBatch,
		"timestampSkewSecs": protocol.MaxSkew.Seconds(),
	}, nil
}

// Helpers

func (p *Processor) checkBatchSize(n int) *protocol.ErrorResponse {
	if n <= p.maxBatch {
		return nil
	}
	return protocol.NewError(
		protocol.CodeBatchTooLarge,
		protocol.ErrorTypeValidation,
		"batch exceeds maximum size",
		fmt.Sprintf("request carries %d data points, limit is %d", n, p.maxBatch),
	)
}

func (p *Processor) ok(messageID string, start time.Time, data interface{}) protocol.Response {
	return protocol.Response{
		Version:          p.version,
		MessageID:        messageID,
		Timestamp:        time.Now(),
		Success:          true,
		ProcessingTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
		Data:             data,
	}
}

func (p *Processor) fail(messageID string, start time.Time, errResp *protocol.ErrorResponse) protocol.Response {
	return protocol.Response{
		Version:          p.version,
		MessageID:        messageID,
		Timestamp:        time.Now(),
		Success:          false,
		ProcessingTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
		Error:            errResp,
	}
}

func badPayload(msg string, err error) *protocol.ErrorResponse {
	details := []string{}
	if err != nil {
		details = append(details, err.Error())
	}
	return protocol.NewError(protocol.CodeValidationFailed, protocol.ErrorTypeValidation, msg, details...)
}

func notFound(deviceID string) *protocol.ErrorResponse {
	return protocol.NewError(
		protocol.CodeDeviceNotFound,
		protocol.ErrorTypeNotFound,
		fmt.Sprintf("device %s not found", deviceID),
	).WithResource(deviceID)
}

// connectError classifies a failed connect attempt for retry guidance.
func connectError(deviceID string, err error) *protocol.ErrorResponse {
	msg := err.Error()
	if strings.Contains(strings.ToLower(msg), "timeout") || strings.Contains(strings.ToLower(msg), "deadline") {
		return protocol.NewError(
			protocol.CodeOperationTimeout,
			protocol.ErrorTypeTimeout,
			"connect timed out",
			msg,
		).WithResource(deviceID)
	}
	return protocol.NewError(
		protocol.CodeConnectFailed,
		protocol.ErrorTypeNetwork,
		"connect failed",
		msg,
	).WithResource(deviceID)
}
