package config

import (
	"fmt"
	"time"
)

// Validate validates the configuration and returns an error if any required fields are missing
// or have invalid values.
func Validate(cfg *Config) error {
	if cfg.Cache.Host != "" {
		if cfg.Cache.Port == 0 {
			return fmt.Errorf("cache.port is required when cache.host is set")
		}
	}
	if cfg.Cache.ScanRateLimit < 0 {
		return fmt.Errorf("cache.scan_rate_limit must not be negative")
	}

	if cfg.Cacher.Enabled && cfg.Cache.Host == "" {
		return fmt.Errorf("cache.host is required when cacher.enabled is set")
	}
	if cfg.Cacher.DefaultTTL < 0 {
		return fmt.Errorf("cacher.default_ttl must not be negative")
	}
	for name, dependents := range cfg.Cacher.Dependencies {
		if name == "" {
			return fmt.Errorf("cacher.dependencies contains an empty cache name")
		}
		for _, dependent := range dependents {
			if dependent == "" {
				return fmt.Errorf("cacher.dependencies.%s contains an empty dependent name", name)
			}
		}
	}

	if cfg.EventBus.Backend == "jetstream" && len(cfg.EventBus.Servers) > 0 {
		if cfg.EventBus.StreamName == "" {
			return fmt.Errorf("eventbus.stream_name is required when servers are configured")
		}
		if cfg.EventBus.ConsumerName == "" {
			return fmt.Errorf("eventbus.consumer_name is required when servers are configured")
		}
	}
	if cfg.EventBus.Backend == "jetstream" && len(cfg.EventBus.Servers) == 0 {
		return fmt.Errorf("eventbus.servers is required when the jetstream backend is selected")
	}

	if cfg.Tracing.Enabled {
		if cfg.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
		}
		if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0")
		}
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port == 0 {
			return fmt.Errorf("metrics.port is required when metrics are enabled")
		}
	}

	if cfg.Retry.Multiplier != 0 && cfg.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1.0")
	}

	return nil
}

// applyDefaults applies default values to the configuration where values are not set.
func applyDefaults(cfg *Config) {
	// Service defaults
	if cfg.Service.Env == "" {
		cfg.Service.Env = "development"
	}
	if cfg.Service.Name == "" {
		cfg.Service.Name = "cacher"
	}

	// Cache defaults
	if cfg.Cache.Port == 0 && cfg.Cache.Host != "" {
		cfg.Cache.Port = 6379
	}
	if cfg.Cache.MaxRetries == 0 {
		cfg.Cache.MaxRetries = 3
	}
	if cfg.Cache.DialTimeout == 0 {
		cfg.Cache.DialTimeout = 5 * time.Second
	}
	if cfg.Cache.ReadTimeout == 0 {
		cfg.Cache.ReadTimeout = 3 * time.Second
	}
	if cfg.Cache.WriteTimeout == 0 {
		cfg.Cache.WriteTimeout = 3 * time.Second
	}
	if cfg.Cache.PoolSize == 0 {
		cfg.Cache.PoolSize = 10
	}
	if cfg.Cache.MinIdleConns == 0 {
		cfg.Cache.MinIdleConns = 2
	}
	if cfg.Cache.ScanCount == 0 {
		cfg.Cache.ScanCount = 100
	}
	if cfg.Cache.ScanBurst == 0 {
		cfg.Cache.ScanBurst = 1
	}

	// Cacher defaults
	if cfg.Cacher.Dependencies == nil {
		cfg.Cacher.Dependencies = map[string][]string{}
	}

	// EventBus defaults
	if cfg.EventBus.Backend == "" && len(cfg.EventBus.Servers) > 0 {
		cfg.EventBus.Backend = "jetstream"
	}
	if cfg.EventBus.Backend == "" {
		cfg.EventBus.Backend = "memory"
	}
	if cfg.EventBus.StreamName == "" && len(cfg.EventBus.Servers) > 0 {
		cfg.EventBus.StreamName = "cacher_events"
	}
	if cfg.EventBus.ConsumerName == "" && len(cfg.EventBus.Servers) > 0 {
		cfg.EventBus.ConsumerName = cfg.Service.Name
	}
	if cfg.EventBus.MaxDeliver == 0 {
		cfg.EventBus.MaxDeliver = 3
	}
	if cfg.EventBus.AckWait == 0 {
		cfg.EventBus.AckWait = 30 * time.Second
	}
	if cfg.EventBus.MaxAckPending == 0 {
		cfg.EventBus.MaxAckPending = 1000
	}

	// Log defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	// Metrics defaults
	if cfg.Metrics.Port == 0 && cfg.Metrics.Enabled {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = cfg.Service.Name
	}

	// Tracing defaults
	if cfg.Tracing.SampleRate == 0 && cfg.Tracing.Enabled {
		cfg.Tracing.SampleRate = 0.1
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = cfg.Service.Name
	}
	if cfg.Tracing.Environment == "" {
		cfg.Tracing.Environment = cfg.Service.Env
	}
	if cfg.Tracing.ExportMode == "" {
		cfg.Tracing.ExportMode = "grpc"
	}
	if cfg.Tracing.BatchTimeout == 0 {
		cfg.Tracing.BatchTimeout = 5 * time.Second
	}

	// Retry defaults
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialDelay == 0 {
		cfg.Retry.InitialDelay = 50 * time.Millisecond
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = time.Second
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = 2.0
	}

	// Health defaults
	if cfg.Health.Port == 0 {
		cfg.Health.Port = 8080
	}
	if cfg.Health.CheckTimeout == 0 {
		cfg.Health.CheckTimeout = 5 * time.Second
	}
}
