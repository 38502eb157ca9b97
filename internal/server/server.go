// internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"fieldgate/internal/config"
	"fieldgate/internal/protocol"
)

const acceptPollDelay = 100 * time.Millisecond

var errMessageTooLarge = errors.New("message exceeds maximum size")

// budgetReader caps how many bytes one decoded message may pull off the
// socket, so an oversize payload is cut off while it is being read
// instead of after it has been buffered whole. The budget is refilled
// before every message.
type budgetReader struct {
	r      io.Reader
	budget int64
}

func (b *budgetReader) Read(p []byte) (int, error) {
	if b.budget <= 0 {
		return 0, errMessageTooLarge
	}
	if int64(len(p)) > b.budget {
		p = p[:b.budget]
	}
	n, err := b.r.Read(p)
	b.budget -= int64(n)
	return n, err
}

// MessageProcessor handles one decoded request payload and always yields a
// well-formed response, never an error.
type MessageProcessor interface {
	Process(ctx context.Context, raw []byte) protocol.Response
}

// Server owns the listening socket, admission-controls new connections and
// runs one handler goroutine per accepted client.
type Server struct {
	cfg       *config.ServerConfig
	ipc       *config.IPCConfig
	clients   *ClientRegistry
	processor MessageProcessor
	logger    *zap.Logger

	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  time.Time
}

// NewServer creates an IPC server.
func NewServer(cfg *config.ServerConfig, ipc *config.IPCConfig, clients *ClientRegistry, processor MessageProcessor, logger *zap.Logger) *Server {
	return &Server{
		cfg:       cfg,
		ipc:       ipc,
		clients:   clients,
		processor: processor,
		logger:    logger,
	}
}

// SetProcessor installs the message processor. Must be called before
// Start; the processor needs the server for status reporting, so wiring
// happens in two steps.
func (s *Server) SetProcessor(p MessageProcessor) {
	s.processor = p
}

// Addr returns the bound listener address, useful when the configured
// port is 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr()
	}
	return s.listener.Addr().String()
}

// Uptime reports how long the server has been accepting connections.
func (s *Server) Uptime() time.Duration {
	if s.started.IsZero() {
		return 0
	}
	return time.Since(s.started)
}

// Start binds the listening socket and spawns the accept loop and the
// periodic client cleanup task. Fails fast when the port is taken.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	s.listener = listener
	s.started = time.Now()

	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.acceptLoop(ctx)
	go s.cleanupLoop(ctx)

	s.logger.Info("IPC server listening",
		zap.String("address", addr),
		zap.Int("max_connections", s.cfg.MaxConnections),
	)
	return nil
}

// Stop signals cancellation, stops the listener, waits bounded for
// in-flight handlers and force-closes whatever remains.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	wait := s.cfg.ShutdownWait
	if wait <= 0 {
		wait = 5 * time.Second
	}

	select {
	case <-done:
	case <-time.After(wait):
		s.logger.Warn("Handlers still running after shutdown wait, force-closing clients")
	}

	s.clients.CloseAll()
	<-done

	s.logger.Info("IPC server stopped")
}

// acceptLoop accepts connections until cancelled. When the active
// connection count reaches the maximum it idles instead of accepting,
// back-pressuring the accept rate rather than rejecting.
func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		if s.clients.Count() >= s.cfg.MaxConnections {
			select {
			case <-time.After(acceptPollDelay):
			case <-ctx.Done():
				return
			}
			continue
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("Accept failed", zap.Error(err))
			continue
		}

		cc := s.clients.Add(conn)
		s.logger.Info("Client connected",
			zap.String("connection_id", cc.ID),
			zap.String("remote_addr", cc.RemoteAddr),
			zap.Int("active", s.clients.Count()),
		)

		s.wg.Add(1)
		go s.handleConnection(ctx, cc, conn)
	}
}

// cleanupLoop periodically purges dead client entries.
func (s *Server) cleanupLoop(ctx context.Context) {
	defer s.wg.Done()

	interval := s.cfg.CleanupInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.clients.CleanupDisconnected()
		}
	}
}

// handleConnection runs the read/process/write loop for one client until
// EOF, an I/O failure or shutdown. Removal always runs, whatever the exit
// path.
func (s *Server) handleConnection(ctx context.Context, cc *ClientConnection, conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		cc.markDead()
		s.clients.Remove(cc.ID)
		s.logger.Info("Client disconnected",
			zap.String("connection_id", cc.ID),
			zap.Int64("messages", cc.MessageCount()),
		)
	}()

	var reader io.Reader = conn
	var budget *budgetReader
	if s.ipc.MaxMessageSize > 0 {
		budget = &budgetReader{r: conn}
		reader = budget
	}
	decoder := json.NewDecoder(reader)

	for {
		if s.cfg.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		if budget != nil {
			// Slack for the message delimiter; a message of exactly the
			// limit still decodes and the length check below decides.
			budget.budget = int64(s.ipc.MaxMessageSize) + 2
		}

		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, errMessageTooLarge) {
				// Framing is lost mid-message: answer once, then drop
				// the connection.
				s.writeResponse(cc, oversizeResponse(s.ipc.MaxMessageSize, s.ipc.ProtocolVersion))
				s.logReadExit(cc, err)
				return
			}
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				// Framing is lost on garbled input: answer once, then
				// drop the connection.
				s.writeResponse(cc, malformedResponse(err, s.ipc.ProtocolVersion))
			}
			s.logReadExit(cc, err)
			return
		}

		cc.Touch()
		s.clients.RecordMessage()

		var resp protocol.Response
		if s.ipc.MaxMessageSize > 0 && len(raw) > s.ipc.MaxMessageSize {
			resp = oversizeResponse(s.ipc.MaxMessageSize, s.ipc.ProtocolVersion)
		} else {
			resp = s.processor.Process(ctx, raw)
		}

		if !s.writeResponse(cc, resp) {
			return
		}
	}
}

// writeResponse serializes and writes one response, reporting whether the
// connection is still usable.
func (s *Server) writeResponse(cc *ClientConnection, resp protocol.Response) bool {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("Response marshal failed",
			zap.String("connection_id", cc.ID),
			zap.Error(err),
		)
		return false
	}

	if err := cc.WriteMessage(data, s.cfg.WriteTimeout); err != nil {
		s.logger.Warn("Response write failed",
			zap.String("connection_id", cc.ID),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (s *Server) logReadExit(cc *ClientConnection, err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed):
		// Shutdown path, nothing to report.
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		s.logger.Debug("Client closed connection", zap.String("connection_id", cc.ID))
	case errors.As(err, &netErr) && netErr.Timeout():
		s.logger.Info("Client idle timeout", zap.String("connection_id", cc.ID))
	default:
		s.logger.Warn("Client read failed",
			zap.String("connection_id", cc.ID),
			zap.Error(err),
		)
	}
}

// oversizeResponse is built here rather than in the processor because the
// raw payload must not be parsed at all once it exceeds the limit.
func oversizeResponse(limit int, version string) protocol.Response {
	return protocol.Response{
		Version:   version,
		Timestamp: time.Now(),
		Success:   false,
		Error: protocol.NewError(
			protocol.CodeMessageTooLarge,
			protocol.ErrorTypeValidation,
			"message exceeds maximum size",
			fmt.Sprintf("limit is %d bytes", limit),
		),
	}
}

func malformedResponse(err error, version string) protocol.Response {
	return protocol.Response{
		Version:   version,
		Timestamp: time.Now(),
		Success:   false,
		Error: protocol.NewError(
			protocol.CodeMalformedMessage,
			protocol.ErrorTypeValidation,
			"malformed JSON message",
			err.Error(),
		),
	}
}
