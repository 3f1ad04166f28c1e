// Package service runs a cacher deployment: it bootstraps the store, the event
// bus, the cacher and the observability stack from configuration, and manages
// the lifecycle of the long-running parts (admin HTTP server, invalidation
// listener) with graceful shutdown.
//
// Example usage:
//
//	cfg := config.MustLoad("config.yaml", "CACHER")
//	b, err := service.NewBootstrap(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Cleanup(context.Background())
//
//	mux := http.NewServeMux()
//	b.Health.Routes(mux)
//
//	err = service.Run(ctx, service.ShutdownConfig{Logger: b.Logger},
//	    service.NewHTTPService("admin", ":8080", mux),
//	    service.NewListenerService(b.Cacher, b.Bus),
//	)
package service

import "context"

// Service represents a component that can be started, stopped and health-checked.
type Service interface {
	// Start starts the service and returns once it is ready.
	Start(ctx context.Context) error

	// Stop gracefully stops the service. The context deadline bounds the wait.
	Stop(ctx context.Context) error

	// Name returns the name of the service for logging and identification.
	Name() string

	// Health returns nil while the service is running.
	Health() error
}
