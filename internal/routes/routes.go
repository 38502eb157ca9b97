// internal/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fieldgate/internal/config"
	"fieldgate/internal/device"
	"fieldgate/internal/handler"
	"fieldgate/internal/middleware"
	"fieldgate/internal/server"
	"fieldgate/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config  *config.Config
	logger  *zap.Logger
	devices *device.Manager
	ipc     *server.Server
	clients *server.ClientRegistry

	wsHandler *handler.WebSocketHandler
}

// NewRouter creates a new router instance
func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	devices *device.Manager,
	ipc *server.Server,
	clients *server.ClientRegistry,
) *Router {
	return &Router{
		config:  cfg,
		logger:  logger,
		devices: devices,
		ipc:     ipc,
		clients: clients,
	}
}

// WebSocketHandler returns the event stream handler so the device manager
// can be subscribed to it during wiring.
func (r *Router) WebSocketHandler() *handler.WebSocketHandler {
	if r.wsHandler == nil {
		r.wsHandler = handler.NewWebSocketHandler(r.logger)
	}
	return r.wsHandler
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.API))

	r.logger.Info("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.config, r.devices, r.logger)
	deviceHandler := handler.NewDeviceHandler(r.devices, r.logger)
	serverHandler := handler.NewServerHandler(r.ipc, r.clients, r.devices, r.logger)
	wsHandler := r.WebSocketHandler()

	r.addHealthRoutes(router, healthHandler)

	apiV1 := router.Group("/api/v1")
	r.addDeviceRoutes(apiV1, deviceHandler)
	r.addServerRoutes(apiV1, serverHandler)

	ws := router.Group("/ws")
	{
		ws.GET("/events", wsHandler.HandleEventConnection)
	}

	r.logger.Info("All routes configured successfully")
}

// addHealthRoutes sets up health check routes
func (r *Router) addHealthRoutes(router *gin.Engine, handler *handler.HealthHandler) {
	health := router.Group("")
	{
		health.GET("/health", handler.HealthCheck)
		health.GET("/ready", handler.ReadinessCheck)
		health.GET("/live", handler.LivenessCheck)
	}
}

// addDeviceRoutes sets up the read-only device monitoring routes
func (r *Router) addDeviceRoutes(api *gin.RouterGroup, deviceHandler *handler.DeviceHandler) {
	devices := api.Group("/devices")
	{
		devices.GET("", deviceHandler.ListDevices)

		device := devices.Group("/:device_id")
		{
			device.GET("", deviceHandler.GetDevice)
			device.POST("/test", deviceHandler.TestDevice)
		}
	}
}

// addServerRoutes sets up the IPC server monitoring routes
func (r *Router) addServerRoutes(api *gin.RouterGroup, serverHandler *handler.ServerHandler) {
	srv := api.Group("/server")
	{
		srv.GET("", serverHandler.GetServerStatus)
		srv.GET("/clients", serverHandler.ListClients)
	}
}
