// Package cache provides the key store the cacher writes to: plain string
// values addressed by string keys, with optional TTL and wildcard key queries.
//
// Example usage:
//
//	cfg := config.CacheConfig{
//	    Host: "localhost",
//	    Port: 6379,
//	}
//
//	s, err := cache.NewRedis(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	err = s.Set(ctx, "minimalism:DATA:null:user(1)", `{"id":1}`, 5*time.Minute)
//	keys, err := s.Keys(ctx, "minimalism:*:*:user(1)*")
//	err = s.Remove(ctx, keys...)
package cache

import (
	"context"
	"time"
)

// Store is the contract the cacher needs from a key-value store.
// All methods respect context cancellation and timeout.
type Store interface {
	// Set stores value under key. A TTL of 0 means no expiration.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value stored under key, or a NotFound error.
	Get(ctx context.Context, key string) (string, error)

	// Remove deletes the given keys. Absent keys are ignored and an empty
	// call is a no-op.
	Remove(ctx context.Context, keys ...string) error

	// Keys returns every key matching pattern, where * matches any run of
	// characters. The order is unspecified and each key appears once.
	Keys(ctx context.Context, pattern string) ([]string, error)
}
