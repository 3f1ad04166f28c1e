// Package logging provides structured logging with zerolog for the cacher.
// It supports configurable log levels, output formats (JSON/console), and
// extraction of trace/span IDs and cascade IDs from the context so that every
// line written during one invalidation cascade can be correlated.
//
// Example usage:
//
//	cfg := config.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	}
//	logger := logging.New(cfg)
//	logger.Info().Str(logging.CacheKey, key).Msg("cache entry saved")
package logging

// Standard field names for structured logging.
const (
	// TraceID is the field name for distributed trace ID (W3C trace context).
	TraceID = "trace_id"

	// SpanID is the field name for current span ID within a trace.
	SpanID = "span_id"

	// ServiceName is the field name for the service generating the log.
	ServiceName = "service_name"

	// Error is the field name for error information.
	Error = "error"

	// Duration is the field name for operation duration.
	Duration = "duration_ms"

	// Component is the field name for the component/package generating the log.
	Component = "component"

	// Operation is the cacher operation being performed (save, read, invalidate...).
	Operation = "operation"

	// CacheKey is a concrete key read, written or removed.
	CacheKey = "cache_key"

	// CachePattern is a wildcard pattern sent to the store.
	CachePattern = "cache_pattern"

	// CacheName is the entity name of a builder.
	CacheName = "cache_name"

	// CascadeID correlates every step of one invalidation cascade.
	CascadeID = "cascade_id"

	// CascadeDepth is the recursion depth of a cascade step.
	CascadeDepth = "cascade_depth"

	// KeysRemoved is the number of keys a sweep removed.
	KeysRemoved = "keys_removed"

	// RequestID identifies one HTTP request.
	RequestID = "request_id"

	Method     = "method"
	Path       = "path"
	StatusCode = "status_code"
)
