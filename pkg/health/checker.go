// Package health aggregates the health of the cacher's dependencies (the key
// store, the event bus) and serves it as liveness and readiness probes.
//
// Example usage:
//
//	h := health.New(health.WithCheckTimeout(cfg.Health.CheckTimeout))
//	h.RegisterChecker("store", store)
//	h.RegisterChecker("event_bus", eventBus)
//
//	mux := http.NewServeMux()
//	h.Routes(mux)
package health

import (
	"context"
)

// Checker is implemented by every component whose health is reported.
// Check returns nil when the component is usable and must respect ctx.
type Checker interface {
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

// Check calls f.
func (f CheckerFunc) Check(ctx context.Context) error {
	return f(ctx)
}
