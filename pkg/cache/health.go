package cache

import (
	"context"
	"time"

	"github.com/carlonicora/minimalism-service-cacher/pkg/errors"
)

// DefaultHealthTimeout bounds CheckHealth when the caller's context has no deadline.
const DefaultHealthTimeout = 2 * time.Second

// HealthChecker defines the interface for store health checking.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// CheckHealth runs store's health check, bounded by timeout unless ctx already
// carries a deadline. Failures are reported as temporary errors.
func CheckHealth(ctx context.Context, store HealthChecker, timeout time.Duration) error {
	if _, ok := ctx.Deadline(); !ok && timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := store.CheckHealth(ctx); err != nil {
		return errors.NewTemporary("cache health check failed", err)
	}

	return nil
}
