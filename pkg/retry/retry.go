// Package retry retries store calls that fail transiently.
//
// It wraps github.com/cenkalti/backoff/v5 and decides what is retryable from
// the error kinds in the errors package: by default only errors.Temporary
// failures are retried, with exponential backoff and jitter.
//
// Example usage:
//
//	err := retry.Do(ctx, retry.FromConfig(cfg.Retry), func() error {
//		return store.Remove(ctx, keys...)
//	})
package retry

import (
	"context"

	"github.com/cenkalti/backoff/v5"
)

// Do executes fn until it succeeds, the policy rejects its error, the attempts
// run out or ctx is done. The error of the last attempt is returned.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	_, err := DoWithData(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithData is Do for functions that also return a value.
//
// Example:
//
//	keys, err := retry.DoWithData(ctx, cfg, func() ([]string, error) {
//		return store.Keys(ctx, pattern)
//	})
func DoWithData[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	operation := func() (T, error) {
		result, err := fn()
		if err == nil {
			return result, nil
		}

		if !cfg.shouldRetry(err) {
			var zero T
			return zero, backoff.Permanent(err)
		}

		return result, err
	}

	return backoff.Retry(ctx, operation, retryOptions(cfg)...)
}

func retryOptions(cfg Config) []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialDelay
	b.MaxInterval = cfg.MaxDelay
	b.Multiplier = cfg.Multiplier
	b.RandomizationFactor = cfg.Jitter

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(cfg.MaxAttempts),
	}

	if cfg.MaxElapsedTime > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(cfg.MaxElapsedTime))
	}

	return opts
}
