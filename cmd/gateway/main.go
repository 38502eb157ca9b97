// cmd/gateway/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"fieldgate/internal/config"
	"fieldgate/internal/device"
	"fieldgate/internal/driver"
	"fieldgate/internal/processor"
	"fieldgate/internal/routes"
	"fieldgate/internal/server"
	"fieldgate/internal/utils"
)

// Application represents the main application
type Application struct {
	config *config.Config
	logger *zap.Logger

	driverRegistry *driver.Registry
	deviceManager  *device.Manager
	clientRegistry *server.ClientRegistry
	ipcServer      *server.Server
	apiServer      *http.Server
}

// serverInfo adapts the IPC server and client registry to the slice of
// state the serverStatus command reports.
type serverInfo struct {
	ipc     *server.Server
	clients *server.ClientRegistry
}

func (si serverInfo) ActiveConnections() int     { return si.clients.Count() }
func (si serverInfo) LifetimeConnections() int64 { return si.clients.TotalServed() }
func (si serverInfo) MessagesProcessed() int64   { return si.clients.TotalMessages() }
func (si serverInfo) Uptime() time.Duration      { return si.ipc.Uptime() }

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, "fieldgate")
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	if err := app.initializeDriverRegistry(); err != nil {
		return nil, fmt.Errorf("failed to initialize driver registry: %w", err)
	}

	if err := app.initializeDeviceManager(); err != nil {
		return nil, fmt.Errorf("failed to initialize device manager: %w", err)
	}

	if err := app.initializeIPCServer(); err != nil {
		return nil, fmt.Errorf("failed to initialize IPC server: %w", err)
	}

	if cfg.API.Enabled {
		if err := app.initializeAPIServer(); err != nil {
			return nil, fmt.Errorf("failed to initialize API server: %w", err)
		}
	}

	return app, nil
}

// initializeDriverRegistry sets up the field protocol driver registry
func (app *Application) initializeDriverRegistry() error {
	app.driverRegistry = driver.NewRegistry(app.logger)
	driver.RegisterDefaultDrivers(app.driverRegistry, app.logger)

	app.logger.Info("Driver registry initialized",
		zap.Int("registered_drivers", len(app.driverRegistry.SupportedTypes())),
	)
	return nil
}

// initializeDeviceManager creates the device manager and registers the
// devices preloaded from configuration
func (app *Application) initializeDeviceManager() error {
	app.deviceManager = device.NewManager(
		app.driverRegistry,
		app.config.Device.OperationTimeout,
		app.logger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, cfg := range app.config.Devices {
		if err := app.deviceManager.AddDevice(ctx, cfg); err != nil {
			app.logger.Error("Failed to add configured device",
				zap.String("device_id", cfg.DeviceID),
				zap.Error(err),
			)
		}
	}

	app.logger.Info("Device manager initialized",
		zap.Int("configured_devices", len(app.config.Devices)),
	)
	return nil
}

// initializeIPCServer wires the message processor into the TCP listener
func (app *Application) initializeIPCServer() error {
	app.clientRegistry = server.NewClientRegistry(app.logger)

	// The processor needs server state for serverStatus, the server needs
	// the processor for dispatch; the info adapter breaks the loop.
	app.ipcServer = server.NewServer(
		&app.config.Server,
		&app.config.IPC,
		app.clientRegistry,
		nil,
		app.logger,
	)

	proc := processor.NewProcessor(
		app.deviceManager,
		serverInfo{ipc: app.ipcServer, clients: app.clientRegistry},
		app.config.IPC.ProtocolVersion,
		app.config.IPC.MaxBatchSize,
		app.logger,
	)
	app.ipcServer.SetProcessor(proc)

	app.logger.Info("IPC server initialized", zap.String("address", app.config.Server.Addr()))
	return nil
}

// initializeAPIServer sets up the optional HTTP monitoring surface
func (app *Application) initializeAPIServer() error {
	routerManager := routes.NewRouter(
		app.config,
		app.logger,
		app.deviceManager,
		app.ipcServer,
		app.clientRegistry,
	)

	// Stream device state transitions out over the websocket endpoint.
	wsHandler := routerManager.WebSocketHandler()
	app.deviceManager.Subscribe(wsHandler.OnStatusChange)

	router := routerManager.SetupRouter()

	app.apiServer = &http.Server{
		Addr:         app.config.API.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	app.logger.Info("API server initialized", zap.String("address", app.config.API.Addr()))
	return nil
}

// Start brings up the listeners and blocks until a shutdown signal
func (app *Application) Start() error {
	if err := app.ipcServer.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start IPC server: %w", err)
	}

	if app.apiServer != nil {
		go func() {
			app.logger.Info("Starting API server", zap.String("address", app.apiServer.Addr))
			if err := app.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				app.logger.Fatal("Failed to start API server", zap.Error(err))
			}
		}()
	}

	app.waitForShutdown()
	return nil
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown()
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, "fieldgate")
	serviceLogger.LogServiceStop("shutdown signal received")

	if app.apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := app.apiServer.Shutdown(ctx); err != nil {
			app.logger.Error("API server shutdown error", zap.Error(err))
		} else {
			app.logger.Info("API server stopped")
		}
		cancel()
	}

	app.ipcServer.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	app.deviceManager.Shutdown(ctx)
	cancel()

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}
