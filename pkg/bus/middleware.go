package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/carlonicora/minimalism-service-cacher/pkg/errors"
	"github.com/carlonicora/minimalism-service-cacher/pkg/logging"
	"github.com/carlonicora/minimalism-service-cacher/pkg/metrics"
	"github.com/carlonicora/minimalism-service-cacher/pkg/retry"
	"google.golang.org/protobuf/proto"
)

// WithRetry retries the handler in-process according to cfg before the
// backend sees its error.
//
// Example:
//
//	bus.Subscribe(ctx, topic, handler, bus.WithRetry(retry.FromConfig(cfg.Retry)))
func WithRetry(cfg retry.Config) SubscribeOption {
	return WithMiddleware(func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg proto.Message) error {
			return retry.Do(ctx, cfg, func() error {
				return next(ctx, msg)
			})
		}
	})
}

// WithLogging logs every event at debug level and failures at error level.
func WithLogging(logger *logging.Logger) SubscribeOption {
	return WithMiddleware(func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg proto.Message) error {
			msgType := messageType(msg)
			start := time.Now()

			err := next(ctx, msg)

			if err != nil {
				logger.Error().
					Err(err).
					Str("message_type", msgType).
					Dur(logging.Duration, time.Since(start)).
					Msg("event processing failed")
			} else {
				logger.Debug().
					Str("message_type", msgType).
					Dur(logging.Duration, time.Since(start)).
					Msg("event processed")
			}

			return err
		}
	})
}

// WithMetrics records each handled event as operation "handle_event" on m.
func WithMetrics(m *metrics.CacheMetrics) SubscribeOption {
	return WithMiddleware(func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg proto.Message) error {
			start := time.Now()
			err := next(ctx, msg)

			result := metrics.ResultSuccess
			if err != nil {
				result = metrics.ResultError
			}
			m.ObserveOperation("handle_event", result, time.Since(start))

			return err
		}
	})
}

// WithErrorHandler passes handler errors to errorHandler, whose return value
// replaces the error. Returning nil marks the error as handled.
func WithErrorHandler(errorHandler func(context.Context, proto.Message, error) error) SubscribeOption {
	return WithMiddleware(func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg proto.Message) error {
			if err := next(ctx, msg); err != nil {
				return errorHandler(ctx, msg, err)
			}
			return nil
		}
	})
}

// WithRecovery turns a handler panic into a permanent error.
func WithRecovery() SubscribeOption {
	return WithMiddleware(func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg proto.Message) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errors.NewPermanent(fmt.Sprintf("handler panicked: %v", r), nil)
				}
			}()
			return next(ctx, msg)
		}
	})
}

// WithTimeout bounds each handler invocation. An overrun is reported as a
// temporary error so the event can be redelivered.
func WithTimeout(timeout time.Duration) SubscribeOption {
	return WithMiddleware(func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg proto.Message) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- next(ctx, msg)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return errors.NewTemporary("handler timeout exceeded", ctx.Err())
			}
		}
	})
}
