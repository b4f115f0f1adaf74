package config

import (
	"fmt"
)

// Validate validates the configuration
func Validate(cfg *Config) error {
	if cfg.Server.Name == "" {
		return fmt.Errorf("server.name is required")
	}
	if len(cfg.Server.Name) > 16 {
		return fmt.Errorf("server.name must be at most 16 characters")
	}
	if len(cfg.Server.Description) > 14 {
		return fmt.Errorf("server.description must be at most 14 characters")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if cfg.Server.Workers <= 0 {
		return fmt.Errorf("server.workers must be positive")
	}

	if cfg.Limits.MaxClients < 0 {
		return fmt.Errorf("limits.max_clients must not be negative")
	}
	if cfg.Limits.MaxStreams < 0 {
		return fmt.Errorf("limits.max_streams must not be negative")
	}
	if cfg.Limits.MaxTasks < 0 {
		return fmt.Errorf("limits.max_tasks must not be negative")
	}
	if cfg.Limits.QueueSize <= 0 {
		return fmt.Errorf("limits.queue_size must be positive")
	}

	if cfg.Timeouts.Client <= 0 {
		return fmt.Errorf("timeouts.client must be positive")
	}
	if cfg.Timeouts.Stream <= 0 {
		return fmt.Errorf("timeouts.stream must be positive")
	}
	if cfg.Timeouts.Drain < 0 {
		return fmt.Errorf("timeouts.drain must not be negative")
	}
	if cfg.Timeouts.WorkerJoin <= 0 {
		return fmt.Errorf("timeouts.worker_join must be positive")
	}
	if cfg.Timeouts.SweepEvery <= 0 {
		return fmt.Errorf("timeouts.sweep_every must be positive")
	}

	if cfg.Resource.Enabled {
		if cfg.Resource.CheckEvery <= 0 {
			return fmt.Errorf("resource.check_every must be positive")
		}
		if cfg.Resource.GrowthPercent < 0 {
			return fmt.Errorf("resource.growth_percent must not be negative")
		}
		if cfg.Resource.IdleWindow <= 0 {
			return fmt.Errorf("resource.idle_window must be positive")
		}
	}

	if cfg.Web.Enabled {
		if cfg.Web.Port <= 0 || cfg.Web.Port > 65535 {
			return fmt.Errorf("web.port must be between 1 and 65535")
		}
	}

	if cfg.Database.Enabled && cfg.Database.Path == "" {
		return fmt.Errorf("database.path is required when database is enabled")
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Prometheus.Enabled {
		if cfg.Metrics.Prometheus.Port < 0 || cfg.Metrics.Prometheus.Port > 65535 {
			return fmt.Errorf("metrics.prometheus.port must be between 0 and 65535")
		}
		if cfg.Metrics.Prometheus.Path == "" {
			return fmt.Errorf("metrics.prometheus.path is required")
		}
	}

	return nil
}
