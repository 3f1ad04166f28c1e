package service

import (
	"context"
	"fmt"
	"net/http"

	"github.com/carlonicora/minimalism-service-cacher/pkg/bus"
	"github.com/carlonicora/minimalism-service-cacher/pkg/cache"
	"github.com/carlonicora/minimalism-service-cacher/pkg/cachekey"
	"github.com/carlonicora/minimalism-service-cacher/pkg/cacher"
	"github.com/carlonicora/minimalism-service-cacher/pkg/config"
	"github.com/carlonicora/minimalism-service-cacher/pkg/health"
	"github.com/carlonicora/minimalism-service-cacher/pkg/logging"
	"github.com/carlonicora/minimalism-service-cacher/pkg/metrics"
	"github.com/carlonicora/minimalism-service-cacher/pkg/tracing"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Bootstrap holds the initialized components of a cacher deployment.
type Bootstrap struct {
	Config         *config.Config
	Logger         *logging.Logger
	TracerProvider *sdktrace.TracerProvider
	Metrics        *metrics.CacheMetrics
	Store          *cache.RedisStore
	Bus            bus.EventBus
	Cacher         *cacher.Cacher
	Health         *health.Health
	cleanup        *CleanupHandler
}

// NewHTTPService creates an HTTP service on the health port, tuned by the
// service.http section of the configuration.
func (b *Bootstrap) NewHTTPService(name string, handler http.Handler) *HTTPService {
	addr := fmt.Sprintf(":%d", b.Config.Health.Port)
	return NewHTTPService(name, addr, handler, HTTPOptions(b.Config.Service.HTTP)...)
}

// Tracing returns the provider spans are created from: the bootstrap's own
// when tracing is enabled, the global one otherwise.
func (b *Bootstrap) Tracing() trace.TracerProvider {
	if b.TracerProvider == nil {
		return otel.GetTracerProvider()
	}
	return b.TracerProvider
}

// BootstrapOption is a functional option for configuring bootstrap behavior.
type BootstrapOption func(*bootstrapConfig)

type bootstrapConfig struct {
	skipMetrics   bool
	skipTracing   bool
	skipBus       bool
	logger        *logging.Logger
	registry      *cachekey.Registry
	cacherOptions []cacher.Option
}

// WithoutMetrics disables metrics initialization during bootstrap.
func WithoutMetrics() BootstrapOption {
	return func(c *bootstrapConfig) {
		c.skipMetrics = true
	}
}

// WithoutTracing disables tracing initialization during bootstrap.
func WithoutTracing() BootstrapOption {
	return func(c *bootstrapConfig) {
		c.skipTracing = true
	}
}

// WithoutBus builds the cacher without an event bus: no events are published
// and remote invalidation is unavailable.
func WithoutBus() BootstrapOption {
	return func(c *bootstrapConfig) {
		c.skipBus = true
	}
}

// WithLogger uses logger instead of building one from the log configuration.
func WithLogger(logger *logging.Logger) BootstrapOption {
	return func(c *bootstrapConfig) {
		c.logger = logger
	}
}

// WithRegistry makes the cacher's factory consult reg when parsing stored keys.
func WithRegistry(reg *cachekey.Registry) BootstrapOption {
	return func(c *bootstrapConfig) {
		c.registry = reg
	}
}

// WithCacherOptions appends options applied after the ones derived from configuration.
func WithCacherOptions(opts ...cacher.Option) BootstrapOption {
	return func(c *bootstrapConfig) {
		c.cacherOptions = append(c.cacherOptions, opts...)
	}
}

// NewBootstrap initializes a cacher deployment from configuration: logger,
// metrics, tracing, Redis store, event bus, cacher and health checks, in that
// order. On failure everything already initialized is released.
//
// An empty cache host yields a cacher with caching disabled.
//
// Example:
//
//	cfg := config.MustLoad("config.yaml", "CACHER")
//	b, err := service.NewBootstrap(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Cleanup(ctx)
//
//	err = b.Cacher.Invalidate(ctx, b.Cacher.Factory().Create("user", cachekey.Int(1)))
func NewBootstrap(ctx context.Context, cfg *config.Config, opts ...BootstrapOption) (*Bootstrap, error) {
	bc := &bootstrapConfig{}
	for _, opt := range opts {
		opt(bc)
	}

	b := &Bootstrap{
		Config:  cfg,
		Logger:  bc.logger,
		cleanup: NewCleanupHandler(),
	}

	if b.Logger == nil {
		b.Logger = logging.New(cfg.Log)
	}
	b.Logger.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("env", cfg.Service.Env).
		Msg("Cacher starting")

	if err := b.initObservability(ctx, bc); err != nil {
		_ = b.Cleanup(ctx)
		return nil, err
	}

	if err := b.initStore(ctx); err != nil {
		_ = b.Cleanup(ctx)
		return nil, err
	}

	if !bc.skipBus {
		if err := b.initBus(ctx); err != nil {
			_ = b.Cleanup(ctx)
			return nil, err
		}
	}

	cacherOpts := append(cacher.FromConfig(cfg),
		cacher.WithLogger(b.Logger),
		cacher.WithMetrics(b.Metrics),
		cacher.WithTracer(tracing.GetTracer(b.Tracing())),
	)
	if bc.registry != nil {
		cacherOpts = append(cacherOpts, cacher.WithFactory(cachekey.NewFactory(bc.registry)))
	}
	if b.Bus != nil {
		cacherOpts = append(cacherOpts, cacher.WithBus(b.Bus))
	}
	cacherOpts = append(cacherOpts, bc.cacherOptions...)

	var store cache.Store
	if b.Store != nil {
		store = b.Store
	}
	b.Cacher = cacher.New(store, cacherOpts...)

	b.Health = health.NewFromConfig(cfg.Health, b.Logger)
	if b.Store != nil {
		b.Health.RegisterChecker("cache", b.Store)
	}
	if checker, ok := b.Bus.(health.Checker); ok {
		b.Health.RegisterChecker("eventbus", checker)
	}
	b.Health.RegisterChecker("cacher", b.Cacher)

	b.Logger.Info().
		Bool("enabled", b.Cacher.UseCaching()).
		Strs("graph", b.Cacher.Graph().Names()).
		Msg("Cacher initialized")

	return b, nil
}

func (b *Bootstrap) initObservability(ctx context.Context, bc *bootstrapConfig) error {
	cfg := b.Config

	if !bc.skipMetrics && cfg.Metrics.Enabled {
		metricsConfig := metrics.MetricsConfig{
			Enabled:   cfg.Metrics.Enabled,
			Port:      cfg.Metrics.Port,
			Path:      cfg.Metrics.Path,
			Namespace: cfg.Metrics.Namespace,
		}
		if err := metrics.Init(metricsConfig); err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
		b.cleanup.Register(metrics.Shutdown)

		if err := metrics.InitStandardMetrics(cfg.Metrics.Namespace); err != nil {
			return fmt.Errorf("failed to register cache metrics: %w", err)
		}
		b.Metrics = metrics.GetCacheMetrics()

		b.Logger.Info().
			Int("port", cfg.Metrics.Port).
			Str("path", cfg.Metrics.Path).
			Msg("Metrics initialized")
	}

	if !bc.skipTracing && cfg.Tracing.Enabled {
		serviceName := cfg.Service.Name
		if cfg.Tracing.ServiceName != "" {
			serviceName = cfg.Tracing.ServiceName
		}

		tracerProvider, shutdown, err := tracing.NewTracerProvider(ctx, cfg.Tracing, serviceName)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		b.TracerProvider = tracerProvider
		b.cleanup.Register(CleanupFunc(shutdown))

		b.Logger.Info().
			Str("endpoint", cfg.Tracing.Endpoint).
			Float64("sample_rate", cfg.Tracing.SampleRate).
			Msg("Tracing initialized")
	}

	return nil
}

func (b *Bootstrap) initStore(ctx context.Context) error {
	if b.Config.Cache.Host == "" {
		b.Logger.Warn().Msg("No cache host configured, caching disabled")
		return nil
	}

	store, err := cache.NewRedis(ctx, b.Config.Cache)
	if err != nil {
		return fmt.Errorf("failed to connect to cache: %w", err)
	}
	b.Store = store
	b.cleanup.Register(func(context.Context) error { return store.Close() })

	b.Logger.Info().
		Str("host", b.Config.Cache.Host).
		Int("port", b.Config.Cache.Port).
		Msg("Cache connected")
	return nil
}

func (b *Bootstrap) initBus(ctx context.Context) error {
	if b.Config.EventBus.Backend == "jetstream" {
		js, err := bus.NewJetStream(ctx, b.Config.EventBus, b.Logger)
		if err != nil {
			return fmt.Errorf("failed to connect to event bus: %w", err)
		}
		b.Bus = js
	} else {
		b.Bus = bus.NewMemory(bus.WithMemoryLogger(b.Logger))
	}

	eb := b.Bus
	b.cleanup.Register(func(context.Context) error { return eb.Close() })

	b.Logger.Info().Str("backend", b.Config.EventBus.Backend).Msg("Event bus initialized")
	return nil
}

// Cleanup releases every initialized component in reverse order of creation.
// Failures are logged and do not stop the remaining steps.
func (b *Bootstrap) Cleanup(ctx context.Context) error {
	err := b.cleanup.Execute(ctx, b.Logger)
	b.Logger.Info().Msg("Cleanup completed")
	return err
}

// AddCleanup adds a function run by Cleanup before the built-in components are released.
func (b *Bootstrap) AddCleanup(fn CleanupFunc) {
	b.cleanup.Register(fn)
}
