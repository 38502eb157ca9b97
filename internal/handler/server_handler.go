// internal/handler/server_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fieldgate/internal/device"
	"fieldgate/internal/server"
	"fieldgate/internal/utils"
)

// ServerHandler exposes IPC server statistics over HTTP
type ServerHandler struct {
	ipc     *server.Server
	clients *server.ClientRegistry
	devices *device.Manager
	logger  *zap.Logger
}

// NewServerHandler creates a new server handler
func NewServerHandler(ipc *server.Server, clients *server.ClientRegistry, devices *device.Manager, logger *zap.Logger) *ServerHandler {
	return &ServerHandler{
		ipc:     ipc,
		clients: clients,
		devices: devices,
		logger:  logger,
	}
}

// GetServerStatus returns IPC server and client statistics
func (h *ServerHandler) GetServerStatus(c *gin.Context) {
	byState := make(map[string]int)
	for _, status := range h.devices.GetAllStatus() {
		byState[string(status.State)]++
	}

	utils.SuccessResponse(c, http.StatusOK, "Server status retrieved", gin.H{
		"uptimeSeconds":     h.ipc.Uptime().Seconds(),
		"activeConnections": h.clients.Count(),
		"totalConnections":  h.clients.TotalServed(),
		"messagesProcessed": h.clients.TotalMessages(),
		"deviceCount":       h.devices.Count(),
		"devicesByState":    byState,
	})
}

// ListClients returns the currently connected IPC clients
func (h *ServerHandler) ListClients(c *gin.Context) {
	clients := h.clients.List()
	utils.SuccessResponse(c, http.StatusOK, "Clients retrieved", gin.H{
		"count":   len(clients),
		"clients": clients,
	})
}
