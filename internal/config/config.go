// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"fieldgate/internal/model"
)

// Config represents the gateway configuration
type Config struct {
	Server  ServerConfig         `mapstructure:"server"`
	IPC     IPCConfig            `mapstructure:"ipc"`
	Device  DeviceConfig         `mapstructure:"device"`
	API     APIConfig            `mapstructure:"api"`
	Logging LoggingConfig        `mapstructure:"logging"`
	Devices []model.DeviceConfig `mapstructure:"devices"`
	App     AppConfig            `mapstructure:"app"`
}

// ServerConfig represents the IPC listener configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	MaxConnections  int           `mapstructure:"max_connections"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	ShutdownWait    time.Duration `mapstructure:"shutdown_wait"`
	BufferSize      int           `mapstructure:"buffer_size"`
}

// Addr returns the listen address
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IPCConfig represents wire-protocol parameters
type IPCConfig struct {
	ProtocolVersion string `mapstructure:"protocol_version"`
	MaxMessageSize  int    `mapstructure:"max_message_size"`
	MaxBatchSize    int    `mapstructure:"max_batch_size"`
	Verbose         bool   `mapstructure:"verbose"`
}

// DeviceConfig represents device-side operation parameters
type DeviceConfig struct {
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// APIConfig represents the optional HTTP monitoring surface
type APIConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Addr returns the HTTP listen address
func (c *APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// IsProduction reports whether the gateway runs in production mode
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// Load loads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variable support
	v.SetEnvPrefix("FIELDGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Defaults plus env are a workable configuration.
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 9500)
	v.SetDefault("server.max_connections", 20)
	v.SetDefault("server.read_timeout", "0s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.cleanup_interval", "30s")
	v.SetDefault("server.shutdown_wait", "5s")
	v.SetDefault("server.buffer_size", 65536)

	// IPC defaults
	v.SetDefault("ipc.protocol_version", "1.0")
	v.SetDefault("ipc.max_message_size", 1<<20)
	v.SetDefault("ipc.max_batch_size", 100)
	v.SetDefault("ipc.verbose", false)

	// Device defaults
	v.SetDefault("device.operation_timeout", "10s")

	// API defaults
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 9501)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// App defaults
	v.SetDefault("app.name", "fieldgate")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535")
	}
	if config.Server.MaxConnections < 1 {
		return fmt.Errorf("server.max_connections must be positive")
	}
	if config.IPC.ProtocolVersion == "" {
		return fmt.Errorf("ipc.protocol_version is required")
	}
	if config.IPC.MaxBatchSize < 1 {
		return fmt.Errorf("ipc.max_batch_size must be positive")
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	isValidLevel := false
	for _, level := range validLevels {
		if config.Logging.Level == level {
			isValidLevel = true
			break
		}
	}
	if !isValidLevel {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	seen := make(map[string]bool, len(config.Devices))
	for _, dev := range config.Devices {
		if err := dev.Validate(); err != nil {
			return fmt.Errorf("device %s: %w", dev.DeviceID, err)
		}
		if seen[dev.DeviceID] {
			return fmt.Errorf("duplicate device id %s", dev.DeviceID)
		}
		seen[dev.DeviceID] = true
	}

	return nil
}
