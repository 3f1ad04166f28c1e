package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/carlonicora/minimalism-service-cacher/pkg/config"
	"github.com/carlonicora/minimalism-service-cacher/pkg/logging"
)

// Aggregate and per-component statuses.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusOK        = "ok"
	StatusError     = "error"
)

const (
	defaultCheckTimeout = 5 * time.Second
	defaultCacheTTL     = time.Second
)

// Health runs the registered checkers concurrently and caches the aggregate
// result for a short time so probes cannot stampede the store.
type Health struct {
	mu       sync.RWMutex
	checkers map[string]Checker

	cacheMu      sync.Mutex
	cachedResult *Result
	cacheExpiry  time.Time

	checkTimeout time.Duration
	cacheTTL     time.Duration
	logger       *logging.Logger
}

// Result is the aggregated outcome of a health check.
type Result struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the outcome of one component check.
type CheckResult struct {
	Status   string        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Healthy reports whether every component passed.
func (r *Result) Healthy() bool {
	return r.Status == StatusHealthy
}

// Failed returns the names of the failing components, sorted.
func (r *Result) Failed() []string {
	var failed []string
	for name, check := range r.Checks {
		if check.Status != StatusOK {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	return failed
}

// Option configures a Health.
type Option func(*Health)

// WithCheckTimeout bounds each checker when the caller's context has no deadline.
func WithCheckTimeout(d time.Duration) Option {
	return func(h *Health) {
		if d > 0 {
			h.checkTimeout = d
		}
	}
}

// WithCacheTTL sets how long an aggregate result is reused. Zero disables caching.
func WithCacheTTL(d time.Duration) Option {
	return func(h *Health) {
		h.cacheTTL = d
	}
}

// WithLogger logs failing components at warn level.
func WithLogger(logger *logging.Logger) Option {
	return func(h *Health) {
		if logger != nil {
			h.logger = logger.WithComponent("health")
		}
	}
}

// New creates a Health with a 5s check timeout and a 1s result cache.
func New(opts ...Option) *Health {
	h := &Health{
		checkers:     make(map[string]Checker),
		checkTimeout: defaultCheckTimeout,
		cacheTTL:     defaultCacheTTL,
		logger:       logging.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewFromConfig creates a Health from the health section of the configuration.
func NewFromConfig(cfg config.HealthConfig, logger *logging.Logger) *Health {
	return New(WithCheckTimeout(cfg.CheckTimeout), WithLogger(logger))
}

// RegisterChecker registers checker under name, replacing any previous one.
func (h *Health) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	h.checkers[name] = checker
	h.mu.Unlock()

	h.ClearCache()
}

// UnregisterChecker removes the checker registered under name and reports whether there was one.
func (h *Health) UnregisterChecker(name string) bool {
	h.mu.Lock()
	_, exists := h.checkers[name]
	delete(h.checkers, name)
	h.mu.Unlock()

	if exists {
		h.ClearCache()
	}
	return exists
}

// Names returns the registered component names, sorted.
func (h *Health) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check returns the aggregated health, reusing a cached result while it is fresh.
func (h *Health) Check(ctx context.Context) *Result {
	h.cacheMu.Lock()
	defer h.cacheMu.Unlock()

	if h.cachedResult != nil && time.Now().Before(h.cacheExpiry) {
		return h.cachedResult
	}

	result := h.run(ctx)
	if h.cacheTTL > 0 {
		h.cachedResult = result
		h.cacheExpiry = time.Now().Add(h.cacheTTL)
	}

	return result
}

func (h *Health) run(ctx context.Context) *Result {
	h.mu.RLock()
	checkers := make(map[string]Checker, len(h.checkers))
	for name, checker := range h.checkers {
		checkers[name] = checker
	}
	h.mu.RUnlock()

	result := &Result{
		Status: StatusHealthy,
		Checks: make(map[string]CheckResult, len(checkers)),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, checker := range checkers {
		wg.Add(1)
		go func(name string, checker Checker) {
			defer wg.Done()

			check := h.checkOne(ctx, checker)

			mu.Lock()
			result.Checks[name] = check
			if check.Status != StatusOK {
				result.Status = StatusUnhealthy
			}
			mu.Unlock()

			if check.Status != StatusOK {
				h.logger.Warn().
					Str(logging.Component, name).
					Str(logging.Error, check.Message).
					Dur(logging.Duration, check.Duration).
					Msg("health check failed")
			}
		}(name, checker)
	}
	wg.Wait()

	return result
}

func (h *Health) checkOne(ctx context.Context, checker Checker) CheckResult {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.checkTimeout)
		defer cancel()
	}

	start := time.Now()
	err := checker.Check(ctx)
	check := CheckResult{Status: StatusOK, Duration: time.Since(start)}
	if err != nil {
		check.Status = StatusError
		check.Message = err.Error()
	}
	return check
}

// CheckComponent runs the checker registered under name, bypassing the cache.
func (h *Health) CheckComponent(ctx context.Context, name string) error {
	h.mu.RLock()
	checker, exists := h.checkers[name]
	h.mu.RUnlock()

	if !exists {
		return fmt.Errorf("health checker %q not registered", name)
	}

	check := h.checkOne(ctx, checker)
	if check.Status != StatusOK {
		return fmt.Errorf("%s: %s", name, check.Message)
	}
	return nil
}

// IsHealthy reports whether every registered component is currently healthy.
func (h *Health) IsHealthy(ctx context.Context) bool {
	return h.Check(ctx).Healthy()
}

// ClearCache drops the cached result so the next Check runs every checker.
func (h *Health) ClearCache() {
	h.cacheMu.Lock()
	defer h.cacheMu.Unlock()

	h.cachedResult = nil
	h.cacheExpiry = time.Time{}
}
