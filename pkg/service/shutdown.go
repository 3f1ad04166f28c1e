package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlonicora/minimalism-service-cacher/pkg/logging"
)

// ShutdownConfig configures graceful shutdown behavior.
type ShutdownConfig struct {
	// Timeout is the maximum time to wait for graceful shutdown.
	Timeout time.Duration

	// Signals is the list of OS signals that trigger shutdown.
	// If empty, defaults to SIGINT and SIGTERM.
	Signals []os.Signal

	// Logger receives shutdown progress. Defaults to a no-op logger.
	Logger *logging.Logger
}

// DefaultShutdownConfig returns the default shutdown configuration.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		Timeout: 30 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

func (c ShutdownConfig) withDefaults() ShutdownConfig {
	d := DefaultShutdownConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if len(c.Signals) == 0 {
		c.Signals = d.Signals
	}
	if c.Logger == nil {
		c.Logger = logging.Nop()
	}
	return c
}

// WaitForShutdown blocks until a shutdown signal is received or ctx is done,
// then stops services in reverse order. A service failing to stop is logged
// and does not prevent the others from stopping.
func WaitForShutdown(ctx context.Context, cfg ShutdownConfig, services ...Service) {
	cfg = cfg.withDefaults()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, cfg.Signals...)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		cfg.Logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case <-ctx.Done():
		cfg.Logger.Info().Msg("Context done, shutting down")
	}

	stopAll(cfg, services)
}

func stopAll(cfg ShutdownConfig, services []Service) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	for i := len(services) - 1; i >= 0; i-- {
		svc := services[i]
		if err := svc.Stop(shutdownCtx); err != nil {
			cfg.Logger.Error().Err(err).Str("service", svc.Name()).Msg("Failed to stop service")
			continue
		}
		cfg.Logger.Info().Str("service", svc.Name()).Msg("Service stopped")
	}

	cfg.Logger.Info().Msg("Graceful shutdown completed")
}

// Run starts services in order and blocks until shutdown. If one fails to
// start, the ones already started are stopped and the error is returned.
//
// Example:
//
//	err := service.Run(ctx, service.ShutdownConfig{Logger: logger},
//	    service.NewHTTPService("admin", ":8080", mux),
//	    service.NewListenerService(c, eb),
//	)
func Run(ctx context.Context, cfg ShutdownConfig, services ...Service) error {
	cfg = cfg.withDefaults()

	for i, svc := range services {
		if err := svc.Start(ctx); err != nil {
			stopAll(cfg, services[:i])
			return fmt.Errorf("failed to start service %s: %w", svc.Name(), err)
		}
		cfg.Logger.Info().Str("service", svc.Name()).Msg("Service started")
	}

	WaitForShutdown(ctx, cfg, services...)
	return nil
}

// CleanupFunc releases one resource during shutdown.
type CleanupFunc func(context.Context) error

// CleanupHandler runs cleanup functions in LIFO order.
type CleanupHandler struct {
	cleanups []CleanupFunc
}

// NewCleanupHandler creates an empty cleanup handler.
func NewCleanupHandler() *CleanupHandler {
	return &CleanupHandler{
		cleanups: make([]CleanupFunc, 0),
	}
}

// Register adds a cleanup function. The last one registered runs first.
func (h *CleanupHandler) Register(fn CleanupFunc) {
	h.cleanups = append(h.cleanups, fn)
}

// Execute runs every registered function in reverse order, even after failures,
// logs each failure and returns the first one. Executed functions are dropped.
func (h *CleanupHandler) Execute(ctx context.Context, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Nop()
	}

	var firstErr error
	for i := len(h.cleanups) - 1; i >= 0; i-- {
		if err := h.cleanups[i](ctx); err != nil {
			logger.Error().Err(err).Msg("Cleanup error")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	h.cleanups = h.cleanups[:0]

	return firstErr
}
