// internal/server/client_registry.go
package server

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ClientConnection wraps one accepted client socket. It is owned by the
// ClientRegistry; the per-connection handler touches it only through the
// activity and write helpers.
type ClientConnection struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	conn      net.Conn
	closeOnce sync.Once

	mu           sync.Mutex
	lastActivity time.Time
	messageCount int64
	alive        bool
}

// Touch records activity and bumps the message counter.
func (cc *ClientConnection) Touch() {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.lastActivity = time.Now()
	cc.messageCount++
}

// LastActivity returns the time of the most recent message.
func (cc *ClientConnection) LastActivity() time.Time {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.lastActivity
}

// MessageCount returns the number of messages processed on this socket.
func (cc *ClientConnection) MessageCount() int64 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.messageCount
}

// Alive reports whether the connection handler is still running.
func (cc *ClientConnection) Alive() bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.alive
}

// markDead flags the connection for cleanup once its handler has exited.
func (cc *ClientConnection) markDead() {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.alive = false
}

// WriteMessage writes one framed response. The write lock also orders
// writes against Close so cleanup can never yank a socket mid-response.
func (cc *ClientConnection) WriteMessage(data []byte, timeout time.Duration) error {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if timeout > 0 {
		cc.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	_, err := cc.conn.Write(append(data, '\n'))
	return err
}

// Close closes the underlying socket exactly once.
func (cc *ClientConnection) Close() error {
	var err error
	cc.closeOnce.Do(func() {
		err = cc.conn.Close()
	})
	cc.markDead()
	return err
}

// ClientInfo is the read-only view used by status reporting
type ClientInfo struct {
	ID           string    `json:"id"`
	RemoteAddr   string    `json:"remoteAddr"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
	MessageCount int64     `json:"messageCount"`
}

// ClientRegistry is the concurrency-safe map of live client sockets plus
// the aggregate counters.
type ClientRegistry struct {
	mu    sync.RWMutex
	conns map[string]*ClientConnection

	totalServed   atomic.Int64
	totalMessages atomic.Int64
	logger        *zap.Logger
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry(logger *zap.Logger) *ClientRegistry {
	return &ClientRegistry{
		conns:  make(map[string]*ClientConnection),
		logger: logger,
	}
}

// Add wraps a freshly accepted socket, assigns it a connection id and
// tracks it. Increments the lifetime counter.
func (r *ClientRegistry) Add(conn net.Conn) *ClientConnection {
	now := time.Now()
	cc := &ClientConnection{
		ID:           uuid.New().String(),
		RemoteAddr:   conn.RemoteAddr().String(),
		ConnectedAt:  now,
		conn:         conn,
		lastActivity: now,
		alive:        true,
	}

	r.mu.Lock()
	r.conns[cc.ID] = cc
	r.mu.Unlock()

	r.totalServed.Add(1)
	return cc
}

// Get looks up a connection by id.
func (r *ClientRegistry) Get(id string) (*ClientConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cc, ok := r.conns[id]
	return cc, ok
}

// Remove closes and evicts a connection. Idempotent: returns false when
// the id is already absent.
func (r *ClientRegistry) Remove(id string) bool {
	r.mu.Lock()
	cc, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	cc.Close()
	return true
}

// RecordMessage bumps the process-wide message counter.
func (r *ClientRegistry) RecordMessage() {
	r.totalMessages.Add(1)
}

// Count returns the number of tracked connections.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// TotalServed returns the lifetime connection count.
func (r *ClientRegistry) TotalServed() int64 {
	return r.totalServed.Load()
}

// TotalMessages returns the lifetime processed message count.
func (r *ClientRegistry) TotalMessages() int64 {
	return r.totalMessages.Load()
}

// List returns a snapshot of every tracked connection.
func (r *ClientRegistry) List() []ClientInfo {
	r.mu.RLock()
	conns := make([]*ClientConnection, 0, len(r.conns))
	for _, cc := range r.conns {
		conns = append(conns, cc)
	}
	r.mu.RUnlock()

	infos := make([]ClientInfo, 0, len(conns))
	for _, cc := range conns {
		infos = append(infos, ClientInfo{
			ID:           cc.ID,
			RemoteAddr:   cc.RemoteAddr,
			ConnectedAt:  cc.ConnectedAt,
			LastActivity: cc.LastActivity(),
			MessageCount: cc.MessageCount(),
		})
	}
	return infos
}

// CleanupDisconnected evicts connections whose handlers have exited.
// Safe to call concurrently with handlers: a live connection writing a
// response is never removed.
func (r *ClientRegistry) CleanupDisconnected() int {
	r.mu.RLock()
	var dead []string
	for id, cc := range r.conns {
		if !cc.Alive() {
			dead = append(dead, id)
		}
	}
	r.mu.RUnlock()

	removed := 0
	for _, id := range dead {
		if r.Remove(id) {
			removed++
		}
	}

	if removed > 0 {
		r.logger.Info("Cleaned up dead client connections", zap.Int("removed", removed))
	}
	return removed
}

// CloseAll force-closes every tracked connection, swallowing per-socket
// errors so one failure does not block the rest.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*ClientConnection)
	r.mu.Unlock()

	for _, cc := range conns {
		if err := cc.Close(); err != nil {
			r.logger.Debug("Close failed during CloseAll",
				zap.String("connection_id", cc.ID),
				zap.Error(err),
			)
		}
	}
}
