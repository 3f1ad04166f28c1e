package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/carlonicora/minimalism-service-cacher/pkg/cachekey"
	"github.com/carlonicora/minimalism-service-cacher/pkg/cacher"
	"github.com/carlonicora/minimalism-service-cacher/pkg/config"
	"github.com/carlonicora/minimalism-service-cacher/pkg/logging"
)

func testConfig(mr *miniredis.Miniredis) *config.Config {
	cfg := &config.Config{
		Service: config.ServiceConfig{
			Name:    "test-service",
			Version: "1.0.0",
			Env:     "test",
		},
		Cacher: config.CacherConfig{
			Enabled:      true,
			Dependencies: map[string][]string{"post": {"user"}},
			DefaultTTL:   time.Minute,
		},
		EventBus: config.EventBusConfig{Backend: "memory"},
		Log: config.LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
	if mr != nil {
		cfg.Cache = config.CacheConfig{
			Host:      mr.Host(),
			Port:      mr.Server().Addr().Port,
			ScanCount: 10,
		}
	}
	return cfg
}

// TestBootstrap tests the Bootstrap functionality.
func TestBootstrap(t *testing.T) {
	t.Run("Basic initialization", func(t *testing.T) {
		mr := miniredis.RunT(t)
		ctx := context.Background()

		b, err := NewBootstrap(ctx, testConfig(mr), WithLogger(logging.Nop()))
		if err != nil {
			t.Fatalf("Failed to create bootstrap: %v", err)
		}
		defer b.Cleanup(ctx)

		if b.Store == nil || b.Bus == nil || b.Cacher == nil || b.Health == nil {
			t.Fatalf("components missing: %+v", b)
		}
		if b.TracerProvider != nil {
			t.Error("TracerProvider should be nil when tracing disabled")
		}
		if b.Tracing() == nil {
			t.Error("Tracing() should fall back to the global provider")
		}

		b.Config.Health.Port = 18081
		b.Config.Service.HTTP = config.HTTPConfig{ShutdownTimeout: 2 * time.Second, MaxHeaderBytes: 2048}
		httpSvc := b.NewHTTPService("admin", http.NotFoundHandler())
		if httpSvc.addr != ":18081" || httpSvc.shutdownTimeout != 2*time.Second || httpSvc.maxHeaderBytes != 2048 {
			t.Errorf("NewHTTPService() addr=%s shutdown=%v header=%d", httpSvc.addr, httpSvc.shutdownTimeout, httpSvc.maxHeaderBytes)
		}
		if !b.Cacher.UseCaching() {
			t.Error("caching should be enabled")
		}
		if got := b.Cacher.Graph().Dependents("post"); len(got) != 1 || got[0] != "user" {
			t.Errorf("Dependents(post) = %v, want [user]", got)
		}

		names := b.Health.Names()
		if len(names) != 3 {
			t.Errorf("health checkers = %v, want cache, cacher and eventbus", names)
		}
		if result := b.Health.Check(ctx); !result.Healthy() {
			t.Errorf("health check failed: %v", result.Failed())
		}

		if err := b.Cacher.Save(ctx, b.Cacher.Factory().Create("user", cachekey.Int(1)), "{}", cachekey.Data); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if ttl := mr.TTL("minimalism:DATA:null:user(1)"); ttl != time.Minute {
			t.Errorf("TTL = %v, want default TTL", ttl)
		}
	})

	t.Run("Without cache host", func(t *testing.T) {
		ctx := context.Background()

		b, err := NewBootstrap(ctx, testConfig(nil), WithLogger(logging.Nop()), WithoutBus())
		if err != nil {
			t.Fatalf("Failed to create bootstrap: %v", err)
		}
		defer b.Cleanup(ctx)

		if b.Store != nil || b.Bus != nil {
			t.Error("store and bus should not be created")
		}
		if b.Cacher.UseCaching() {
			t.Error("caching should be disabled without a store")
		}
	})

	t.Run("Registry and cacher options", func(t *testing.T) {
		mr := miniredis.RunT(t)
		ctx := context.Background()

		reg := cachekey.NewRegistry()
		if err := reg.Register("user", func(cachekey.Identifier) *cachekey.Builder {
			return cachekey.NewBuilder().WithTTL(time.Hour)
		}); err != nil {
			t.Fatal(err)
		}

		var reported []string
		b, err := NewBootstrap(ctx, testConfig(mr),
			WithLogger(logging.Nop()),
			WithRegistry(reg),
			WithCacherOptions(cacher.WithErrorHandler(func(_ context.Context, op string, _ error) {
				reported = append(reported, op)
			})),
		)
		if err != nil {
			t.Fatalf("Failed to create bootstrap: %v", err)
		}
		defer b.Cleanup(ctx)

		parsed, err := b.Cacher.Factory().CreateFromKey("minimalism:DATA:null:user(1)")
		if err != nil {
			t.Fatalf("CreateFromKey failed: %v", err)
		}
		if parsed.TTL() != time.Hour {
			t.Errorf("parsed TTL = %v, want the registered TTL", parsed.TTL())
		}

		mr.Close()
		_, _ = b.Cacher.Read(ctx, b.Cacher.Factory().Create("user", cachekey.Int(1)), cachekey.Data)
		if len(reported) == 0 {
			t.Error("error handler option was not applied")
		}
	})

	t.Run("Unreachable cache", func(t *testing.T) {
		cfg := testConfig(nil)
		cfg.Cache = config.CacheConfig{Host: "127.0.0.1", Port: 1, DialTimeout: 100 * time.Millisecond}

		if _, err := NewBootstrap(context.Background(), cfg, WithLogger(logging.Nop())); err == nil {
			t.Error("Expected error for unreachable cache")
		}
	})

	t.Run("Unreachable event bus", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := testConfig(mr)
		cfg.EventBus = config.EventBusConfig{
			Backend:      "jetstream",
			Servers:      []string{"nats://127.0.0.1:1"},
			StreamName:   "TEST",
			ConsumerName: "test",
		}

		if _, err := NewBootstrap(context.Background(), cfg, WithLogger(logging.Nop())); err == nil {
			t.Error("Expected error for unreachable event bus")
		}
	})

	t.Run("Tracing enabled without endpoint", func(t *testing.T) {
		cfg := testConfig(nil)
		cfg.Tracing = config.TracingConfig{Enabled: true}

		if _, err := NewBootstrap(context.Background(), cfg, WithLogger(logging.Nop()), WithoutBus()); err == nil {
			t.Error("Expected error for tracing without endpoint")
		}

		b, err := NewBootstrap(context.Background(), cfg, WithLogger(logging.Nop()), WithoutBus(), WithoutTracing())
		if err != nil {
			t.Fatalf("WithoutTracing should skip tracing: %v", err)
		}
		b.Cleanup(context.Background())
	})
}

func TestBootstrapCleanupOrder(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	b, err := NewBootstrap(ctx, testConfig(mr), WithLogger(logging.Nop()))
	if err != nil {
		t.Fatalf("Failed to create bootstrap: %v", err)
	}

	storeOpen := false
	b.AddCleanup(func(ctx context.Context) error {
		storeOpen = b.Store.Check(ctx) == nil
		return nil
	})

	if err := b.Cleanup(ctx); err != nil {
		t.Errorf("Cleanup() error = %v", err)
	}
	if !storeOpen {
		t.Error("added cleanup should run before the store is closed")
	}
	if err := b.Store.Check(ctx); err == nil {
		t.Error("store should be closed after Cleanup")
	}
}
