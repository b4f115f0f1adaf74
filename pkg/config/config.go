package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts"`
	Lists    ListsConfig    `mapstructure:"lists"`
	Resource ResourceConfig `mapstructure:"resource"`
	Web      WebConfig      `mapstructure:"web"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig holds reflector identification and bind settings
type ServerConfig struct {
	Name        string `mapstructure:"name"`        // Up to 16 characters, shown in status replies
	Description string `mapstructure:"description"` // Up to 14 characters
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Workers     int    `mapstructure:"workers"` // Queue worker goroutines
}

// LimitsConfig bounds the registries and queues
type LimitsConfig struct {
	MaxClients int `mapstructure:"max_clients"`
	MaxStreams int `mapstructure:"max_streams"`
	MaxTasks   int `mapstructure:"max_tasks"`
	QueueSize  int `mapstructure:"queue_size"`
}

// TimeoutsConfig holds inactivity windows and shutdown deadlines
type TimeoutsConfig struct {
	Client     time.Duration `mapstructure:"client"`      // Session inactivity timeout
	Stream     time.Duration `mapstructure:"stream"`      // Stream inactivity timeout
	Drain      time.Duration `mapstructure:"drain"`       // Queue drain deadline on shutdown
	WorkerJoin time.Duration `mapstructure:"worker_join"` // Bound on worker goroutine join
	SweepEvery time.Duration `mapstructure:"sweep_every"` // Housekeeping interval
}

// ListsConfig points at the access-control list files
type ListsConfig struct {
	BlockedAddresses string `mapstructure:"blocked_addresses"`
	BlockedGateways  string `mapstructure:"blocked_gateways"`
	AllowedGateways  string `mapstructure:"allowed_gateways"`
	BlockedCallsigns string `mapstructure:"blocked_callsigns"`
	AllowedCallsigns string `mapstructure:"allowed_callsigns"`
	AllowedGroups    string `mapstructure:"allowed_groups"`
}

// ResourceConfig holds the resource monitor thresholds
type ResourceConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	CheckEvery    time.Duration `mapstructure:"check_every"`
	MaxHeapBytes  uint64        `mapstructure:"max_heap_bytes"`  // Absolute heap ceiling, 0 disables
	GrowthPercent int           `mapstructure:"growth_percent"`  // Relative growth trigger, 0 disables
	IdleWindow    time.Duration `mapstructure:"idle_window"`     // Early-sweep idle window under pressure
}

// WebConfig holds web dashboard configuration
type WebConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// DatabaseConfig holds persistence configuration
type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled    bool             `mapstructure:"enabled"`
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig holds Prometheus metrics configuration
type PrometheusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/ysf-nexus")
	}

	v.SetEnvPrefix("YSF")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is OK, use defaults
		} else if os.IsNotExist(err) {
			// File explicitly specified but doesn't exist - that's also OK
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.name", "YSF-Nexus")
	v.SetDefault("server.description", "Go YSF Server")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 42000)
	v.SetDefault("server.workers", 4)

	// Limit defaults
	v.SetDefault("limits.max_clients", 200)
	v.SetDefault("limits.max_streams", 16)
	v.SetDefault("limits.max_tasks", 32)
	v.SetDefault("limits.queue_size", 512)

	// Timeout defaults
	v.SetDefault("timeouts.client", "5m")
	v.SetDefault("timeouts.stream", "2s")
	v.SetDefault("timeouts.drain", "3s")
	v.SetDefault("timeouts.worker_join", "5s")
	v.SetDefault("timeouts.sweep_every", "1s")

	// Resource monitor defaults
	v.SetDefault("resource.enabled", true)
	v.SetDefault("resource.check_every", "30s")
	v.SetDefault("resource.max_heap_bytes", 0)
	v.SetDefault("resource.growth_percent", 50)
	v.SetDefault("resource.idle_window", "500ms")

	// Web defaults
	v.SetDefault("web.enabled", true)
	v.SetDefault("web.host", "0.0.0.0")
	v.SetDefault("web.port", 8080)

	// Database defaults
	v.SetDefault("database.enabled", true)
	v.SetDefault("database.path", "ysf-nexus.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.prometheus.enabled", true)
	v.SetDefault("metrics.prometheus.port", 9090)
	v.SetDefault("metrics.prometheus.path", "/metrics")
}
