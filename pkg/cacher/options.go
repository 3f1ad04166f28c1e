package cacher

import (
	"time"

	"github.com/carlonicora/minimalism-service-cacher/pkg/bus"
	"github.com/carlonicora/minimalism-service-cacher/pkg/cachekey"
	"github.com/carlonicora/minimalism-service-cacher/pkg/config"
	"github.com/carlonicora/minimalism-service-cacher/pkg/logging"
	"github.com/carlonicora/minimalism-service-cacher/pkg/metrics"
	"github.com/carlonicora/minimalism-service-cacher/pkg/retry"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a Cacher.
type Option func(*Cacher)

// WithEnabled turns caching on or off. A disabled cacher never touches the
// store: writes and invalidations are no-ops and reads miss.
func WithEnabled(enabled bool) Option {
	return func(c *Cacher) {
		c.enabled = enabled
	}
}

// WithGraph sets the dependency graph followed by the cascade.
func WithGraph(g *Graph) Option {
	return func(c *Cacher) {
		if g != nil {
			c.graph = g
		}
	}
}

// WithFactory sets the factory used to rebuild builders from stored keys.
// Pass one backed by a cachekey.Registry so rebuilt builders keep their presets.
func WithFactory(f *cachekey.Factory) Option {
	return func(c *Cacher) {
		if f != nil {
			c.factory = f
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Cacher) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records operations on m.
func WithMetrics(m *metrics.CacheMetrics) Option {
	return func(c *Cacher) {
		c.metrics = m
	}
}

// WithTracer sets the tracer. The global provider's tracer is used by default.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Cacher) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithBus publishes cache_invalidated and cache_error events on eb and lets
// RequestInvalidation publish requests.
func WithBus(eb bus.EventBus) Option {
	return func(c *Cacher) {
		c.bus = eb
	}
}

// WithErrorHandler registers a callback for every store error, swallowed or not.
func WithErrorHandler(h ErrorHandler) Option {
	return func(c *Cacher) {
		c.errorHandler = h
	}
}

// WithRetry sets how store calls made during invalidation are retried.
func WithRetry(cfg retry.Config) Option {
	return func(c *Cacher) {
		c.retry = cfg
	}
}

// WithDefaultTTL sets the expiry of entries whose builder has none.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cacher) {
		c.defaultTTL = ttl
	}
}

// FromConfig returns the options described by the cacher and retry sections
// of the service configuration.
func FromConfig(cfg *config.Config) []Option {
	return []Option{
		WithEnabled(cfg.Cacher.Enabled),
		WithGraph(NewGraph(cfg.Cacher.Dependencies)),
		WithDefaultTTL(cfg.Cacher.DefaultTTL),
		WithRetry(retry.FromConfig(cfg.Retry)),
	}
}
