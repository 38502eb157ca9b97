// internal/handler/device_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fieldgate/internal/device"
	"fieldgate/internal/utils"
)

// DeviceHandler serves the read-only device monitoring endpoints. Device
// lifecycle changes go through the IPC protocol, never through HTTP.
type DeviceHandler struct {
	devices *device.Manager
	logger  *zap.Logger
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(devices *device.Manager, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		devices: devices,
		logger:  logger,
	}
}

// ListDevices returns the status of every registered device
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	statuses := h.devices.GetAllStatus()
	utils.SuccessResponse(c, http.StatusOK, "Devices retrieved", gin.H{
		"count":   len(statuses),
		"devices": statuses,
	})
}

// GetDevice returns the status of one device
func (h *DeviceHandler) GetDevice(c *gin.Context) {
	deviceID := c.Param("device_id")

	status, err := h.devices.GetStatus(deviceID)
	if err != nil {
		utils.ErrorResponse(c, http.StatusNotFound, "Device not found", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Device retrieved", status)
}

// TestDevice probes a device's connectivity
func (h *DeviceHandler) TestDevice(c *gin.Context) {
	deviceID := c.Param("device_id")

	if !h.devices.Exists(deviceID) {
		utils.ErrorResponse(c, http.StatusNotFound, "Device not found", nil)
		return
	}

	ok, err := h.devices.TestConnection(c.Request.Context(), deviceID)
	data := gin.H{"deviceId": deviceID, "reachable": ok}
	if err != nil {
		data["error"] = err.Error()
	}

	utils.SuccessResponse(c, http.StatusOK, "Connection test completed", data)
}
