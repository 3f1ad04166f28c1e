package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/carlonicora/minimalism-service-cacher/pkg/config"
	"github.com/carlonicora/minimalism-service-cacher/pkg/errors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// removeBatchSize bounds the number of keys sent in one DEL command.
const removeBatchSize = 500

// RedisStore implements Store using Redis as the backend. Pattern queries use
// SCAN so that large key spaces never block the server the way KEYS would.
type RedisStore struct {
	client    *redis.Client
	cfg       config.CacheConfig
	scanCount int64
	limiter   *rate.Limiter
}

// NewRedis creates a new Redis store with the given configuration and pings it.
// It accepts context for cancellation during connection establishment.
func NewRedis(ctx context.Context, cfg config.CacheConfig) (*RedisStore, error) {
	opts := &redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.NewTemporary("failed to connect to Redis", err)
	}

	s := &RedisStore{
		client:    client,
		cfg:       cfg,
		scanCount: cfg.ScanCount,
	}
	if s.scanCount <= 0 {
		s.scanCount = 100
	}
	if cfg.ScanRateLimit > 0 {
		burst := cfg.ScanBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.ScanRateLimit), burst)
	}

	return s, nil
}

// Set stores value under key with the specified TTL.
func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return errors.NewTemporary("failed to set cache key", err)
	}
	return nil
}

// Get returns the value stored under key.
func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", errors.NewNotFound("cache key", key)
		}
		return "", errors.NewTemporary("failed to get from cache", err)
	}
	return value, nil
}

// Remove deletes keys in batches.
func (r *RedisStore) Remove(ctx context.Context, keys ...string) error {
	for start := 0; start < len(keys); start += removeBatchSize {
		end := start + removeBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := r.client.Del(ctx, keys[start:end]...).Err(); err != nil {
			return errors.NewTemporary("failed to delete cache keys", err)
		}
	}
	return nil
}

// Keys walks the key space with SCAN MATCH pattern and returns the distinct matches.
func (r *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	seen := make(map[string]struct{})
	var keys []string
	var cursor uint64

	for {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, errors.NewTemporary("pattern query interrupted", err)
			}
		}

		batch, next, err := r.client.Scan(ctx, cursor, pattern, r.scanCount).Result()
		if err != nil {
			return nil, errors.NewTemporary("failed to scan cache keys", err)
		}

		// SCAN may return a key more than once
		for _, key := range batch {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return keys, nil
}

// Exists checks if a key exists in the store.
func (r *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	count, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, errors.NewTemporary("failed to check cache key existence", err)
	}
	return count > 0, nil
}

// CheckHealth verifies store connectivity using Redis PING command.
func (r *RedisStore) CheckHealth(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.NewTemporary("Redis health check failed", err)
	}
	return nil
}

// Check implements the health.Checker interface for the Redis store.
//
// Example usage:
//
//	h := health.New()
//	h.RegisterChecker("store", redisStore)
func (r *RedisStore) Check(ctx context.Context) error {
	return r.CheckHealth(ctx)
}

// Close releases all resources associated with the store.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
