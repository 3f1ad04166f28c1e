// Package config loads the configuration of a cacher deployment from YAML or
// JSON files, .env files and environment variables, then applies defaults and
// validates the result.
//
// Example usage:
//
//	cfg, err := config.Load("config.yaml", "CACHER")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Or panic on error:
//	cfg := config.MustLoad("config.yaml", "CACHER")
package config

import (
	"time"
)

// LegacyEnableEnv is the environment switch older deployments use to turn caching on.
// It is honoured regardless of the env prefix passed to Load.
const LegacyEnableEnv = "MINIMALISM_SERVICE_CACHER_USE"

// Config represents the complete configuration of a cacher deployment.
type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Cacher   CacherConfig   `mapstructure:"cacher"`
	EventBus EventBusConfig `mapstructure:"eventbus"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Health   HealthConfig   `mapstructure:"health"`
}

// ServiceConfig contains general service information.
type ServiceConfig struct {
	Name    string     `mapstructure:"name"`
	Version string     `mapstructure:"version"`
	Env     string     `mapstructure:"env"` // development, staging, production
	HTTP    HTTPConfig `mapstructure:"http"`
}

// HTTPConfig tunes the HTTP server of the health probes and the API.
// Zero values keep the server defaults.
type HTTPConfig struct {
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxHeaderBytes  int           `mapstructure:"max_header_bytes"`
}

// CacheConfig contains the Redis connection used as the key store.
type CacheConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`

	// ScanCount is the COUNT hint passed to every SCAN call of a pattern query.
	// Default: 100.
	ScanCount int64 `mapstructure:"scan_count"`

	// ScanRateLimit caps SCAN calls per second during pattern queries (0 = unlimited).
	ScanRateLimit float64 `mapstructure:"scan_rate_limit"`

	// ScanBurst is the burst size of the SCAN limiter. Default: 1.
	ScanBurst int `mapstructure:"scan_burst"`
}

// CacherConfig contains the behaviour of the cacher service itself.
type CacherConfig struct {
	// Enabled turns caching on. When false every write and invalidation is a
	// no-op and every read misses. Also settable through MINIMALISM_SERVICE_CACHER_USE.
	Enabled bool `mapstructure:"enabled"`

	// Dependencies maps a cache name to the names of the caches that embed it
	// as a list member, e.g. {"post": ["user"]}.
	Dependencies map[string][]string `mapstructure:"dependencies"`

	// DefaultTTL is used when a builder has no TTL of its own (0 = no expiry).
	DefaultTTL time.Duration `mapstructure:"default_ttl"`

	// Listen subscribes the cacher to remote invalidation requests on the event bus.
	Listen bool `mapstructure:"listen"`
}

// EventBusConfig contains event bus (NATS JetStream) configuration.
type EventBusConfig struct {
	Backend       string        `mapstructure:"backend"`         // "jetstream" or "memory"
	Servers       []string      `mapstructure:"servers"`         // NATS server URLs
	StreamName    string        `mapstructure:"stream_name"`     // JetStream stream name
	ConsumerName  string        `mapstructure:"consumer_name"`   // Durable consumer name
	MaxDeliver    int           `mapstructure:"max_deliver"`     // Max delivery attempts
	AckWait       time.Duration `mapstructure:"ack_wait"`        // Acknowledgment timeout
	MaxAckPending int           `mapstructure:"max_ack_pending"` // Max outstanding unacked messages
}

// LogConfig contains structured logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
	Output string `mapstructure:"output"` // stdout, stderr, file path
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Port      int    `mapstructure:"port"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"` // Metric prefix
}

// TracingConfig contains OpenTelemetry tracing configuration.
type TracingConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Endpoint     string        `mapstructure:"endpoint"`      // OTLP endpoint (e.g., "localhost:4317")
	SampleRate   float64       `mapstructure:"sample_rate"`   // 0.0 to 1.0
	ServiceName  string        `mapstructure:"service_name"`  // Override service name for traces
	Environment  string        `mapstructure:"environment"`   // Environment tag
	ExportMode   string        `mapstructure:"export_mode"`   // "grpc" or "http"
	Insecure     bool          `mapstructure:"insecure"`      // Use insecure connection
	BatchTimeout time.Duration `mapstructure:"batch_timeout"` // Batch export timeout
}

// RetryConfig controls how store calls made during invalidation are retried.
type RetryConfig struct {
	MaxAttempts    uint          `mapstructure:"max_attempts"`
	InitialDelay   time.Duration `mapstructure:"initial_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	Multiplier     float64       `mapstructure:"multiplier"`
	MaxElapsedTime time.Duration `mapstructure:"max_elapsed_time"`
}

// HealthConfig contains the health endpoint configuration.
type HealthConfig struct {
	Port         int           `mapstructure:"port"`
	CheckTimeout time.Duration `mapstructure:"check_timeout"`
}
