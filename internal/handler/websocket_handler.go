// internal/handler/websocket_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"fieldgate/internal/model"
	"fieldgate/internal/utils"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 64
)

// wsClient is one websocket subscriber with its outbound queue
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// WebSocketHandler streams device state transitions to websocket clients.
// It is wired as a status-change subscriber on the device manager.
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	logger   *utils.ServiceLogger

	mu      sync.RWMutex
	clients map[string]*wsClient
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Loopback-only monitoring surface, origin is not enforced.
				return true
			},
		},
		logger:  utils.NewServiceLogger(logger, "websocket-handler"),
		clients: make(map[string]*wsClient),
	}
}

// HandleEventConnection upgrades a client and streams state changes to it
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &wsClient{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
	}

	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()

	h.logger.Info("Event stream client connected",
		zap.String("client_id", client.id),
		zap.String("remote_addr", conn.RemoteAddr().String()),
	)

	go h.writePump(client)
	go h.readPump(client)
}

// OnStatusChange broadcasts a device state transition to every subscriber.
// Slow subscribers are skipped rather than blocked on.
func (h *WebSocketHandler) OnStatusChange(sc model.StatusChange) {
	payload, err := json.Marshal(map[string]interface{}{
		"type":      "status_changed",
		"data":      sc,
		"timestamp": time.Now(),
	})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		select {
		case client.send <- payload:
		default:
		}
	}
}

// ClientCount returns the number of live subscribers
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WebSocketHandler) remove(client *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[client.id]
	if ok {
		delete(h.clients, client.id)
		close(client.send)
	}
	h.mu.Unlock()

	if ok {
		client.conn.Close()
		h.logger.Info("Event stream client disconnected", zap.String("client_id", client.id))
	}
}

// readPump drains inbound frames so pings and closes are processed
func (h *WebSocketHandler) readPump(client *wsClient) {
	defer h.remove(client)

	client.conn.SetReadLimit(1024)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump pushes queued events and keepalive pings
func (h *WebSocketHandler) writePump(client *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		h.remove(client)
	}()

	for {
		select {
		case payload, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
