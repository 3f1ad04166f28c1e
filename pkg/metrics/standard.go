package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation results recorded by CacheMetrics.
const (
	ResultHit      = "hit"
	ResultMiss     = "miss"
	ResultSuccess  = "success"
	ResultError    = "error"
	ResultDisabled = "disabled"
)

var (
	standardCacheMetrics *CacheMetrics

	// Ensure standard metrics are initialized only once
	standardMetricsOnce sync.Once
)

// CacheMetrics groups the metrics every cacher operation records.
// A nil *CacheMetrics is valid and records nothing.
type CacheMetrics struct {
	operations      *Counter
	duration        *Histogram
	invalidatedKeys *Counter
	cascadeDepth    *Histogram
	inFlight        *Gauge
}

// NewCacheMetrics creates the cache metrics and registers them with reg, or
// with the global registry when reg is nil.
func NewCacheMetrics(namespace string, reg prometheus.Registerer) (*CacheMetrics, error) {
	m := &CacheMetrics{}
	var err error

	m.operations, err = NewCounter(CounterOpts{
		Namespace:  namespace,
		Subsystem:  "cache",
		Name:       "operations_total",
		Help:       "Total number of cacher operations by result",
		Labels:     []string{"operation", "result"},
		Registerer: reg,
	})
	if err != nil {
		return nil, err
	}

	m.duration, err = NewHistogram(HistogramOpts{
		Namespace:  namespace,
		Subsystem:  "cache",
		Name:       "operation_duration_seconds",
		Help:       "Cacher operation duration in seconds",
		Labels:     []string{"operation"},
		Buckets:    []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		Registerer: reg,
	})
	if err != nil {
		return nil, err
	}

	m.invalidatedKeys, err = NewCounter(CounterOpts{
		Namespace:  namespace,
		Subsystem:  "cache",
		Name:       "invalidated_keys_total",
		Help:       "Total number of keys removed by invalidation, by cascade step",
		Labels:     []string{"reason"},
		Registerer: reg,
	})
	if err != nil {
		return nil, err
	}

	m.cascadeDepth, err = NewHistogram(HistogramOpts{
		Namespace:  namespace,
		Subsystem:  "cache",
		Name:       "cascade_depth",
		Help:       "Deepest recursion level reached by an invalidation cascade",
		Labels:     []string{},
		Buckets:    []float64{0, 1, 2, 3, 4, 5, 8, 13, 21},
		Registerer: reg,
	})
	if err != nil {
		return nil, err
	}

	m.inFlight, err = NewGauge(GaugeOpts{
		Namespace:  namespace,
		Subsystem:  "cache",
		Name:       "cascades_in_flight",
		Help:       "Number of invalidation cascades currently running",
		Labels:     []string{},
		Registerer: reg,
	})
	if err != nil {
		return nil, err
	}

	return m, nil
}

// ObserveOperation records one operation outcome and its duration.
func (m *CacheMetrics) ObserveOperation(operation, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.operations.Inc(operation, result)
	m.duration.Observe(d.Seconds(), operation)
}

// AddInvalidatedKeys records n keys removed for reason.
func (m *CacheMetrics) AddInvalidatedKeys(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.invalidatedKeys.Add(float64(n), reason)
}

// ObserveCascadeDepth records the depth reached by one cascade.
func (m *CacheMetrics) ObserveCascadeDepth(depth int) {
	if m == nil {
		return
	}
	m.cascadeDepth.Observe(float64(depth))
}

// CascadeStarted marks one cascade as running. Call the returned function when it ends.
func (m *CacheMetrics) CascadeStarted() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return func() { m.inFlight.Dec() }
}

// InitStandardMetrics initializes the standard cache metrics on the global registry.
// It is safe to call multiple times - subsequent calls are no-ops.
func InitStandardMetrics(namespace string) error {
	var initErr error

	standardMetricsOnce.Do(func() {
		standardCacheMetrics, initErr = NewCacheMetrics(namespace, nil)
	})

	return initErr
}

// GetCacheMetrics returns the standard cache metrics.
// Returns nil if standard metrics have not been initialized.
func GetCacheMetrics() *CacheMetrics {
	return standardCacheMetrics
}
