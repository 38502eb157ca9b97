// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fieldgate/internal/config"
	"fieldgate/internal/device"
	"fieldgate/internal/utils"
)

// HealthHandler serves liveness and readiness probes
type HealthHandler struct {
	config  *config.Config
	devices *device.Manager
	logger  *zap.Logger
	started time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(cfg *config.Config, devices *device.Manager, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		config:  cfg,
		devices: devices,
		logger:  logger,
		started: time.Now(),
	}
}

// HealthCheck reports overall service health
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Service is healthy", gin.H{
		"service":       h.config.App.Name,
		"version":       h.config.App.Version,
		"environment":   h.config.App.Environment,
		"uptimeSeconds": time.Since(h.started).Seconds(),
		"deviceCount":   h.devices.Count(),
	})
}

// LivenessCheck reports whether the process is alive
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Alive", nil)
}

// ReadinessCheck reports whether the gateway can serve requests
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Ready", gin.H{
		"deviceCount": h.devices.Count(),
	})
}
