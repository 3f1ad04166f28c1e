package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys set on cacher spans.
const (
	AttrCacheOperation = attribute.Key("cache.operation")
	AttrCacheKey       = attribute.Key("cache.key")
	AttrCachePattern   = attribute.Key("cache.pattern")
	AttrCacheHit       = attribute.Key("cache.hit")
	AttrCascadeID      = attribute.Key("cache.cascade.id")
	AttrCascadeDepth   = attribute.Key("cache.cascade.depth")
	AttrKeysRemoved    = attribute.Key("cache.keys_removed")
)

// StartSpan starts a span from the global provider as a child of the span in ctx.
//
// Example:
//
//	ctx, span := tracing.StartSpan(ctx, "cacher.Invalidate",
//	    trace.WithAttributes(tracing.CacheAttributes("invalidate", key)...))
//	defer span.End()
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return GetTracer(nil).Start(ctx, name, opts...)
}

// SpanFromContext retrieves the current span from the context.
// Returns a no-op span if no span is present in the context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// SetSpanAttributes adds attributes to the span in the context.
func SetSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// SetSpanError records err on the span in ctx and marks it failed.
func SetSpanError(ctx context.Context, err error) {
	if err == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// AddSpanEvent adds a timestamped event to the span in ctx.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// CacheAttributes describes a single-key store operation.
func CacheAttributes(operation, key string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCacheOperation.String(operation),
		AttrCacheKey.String(key),
	}
}

// PatternAttributes describes a pattern sweep and how many keys it removed.
func PatternAttributes(pattern string, removed int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCachePattern.String(pattern),
		AttrKeysRemoved.Int(removed),
	}
}

// CascadeAttributes correlates a span with its invalidation cascade.
func CascadeAttributes(cascadeID string, depth int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCascadeID.String(cascadeID),
		AttrCascadeDepth.Int(depth),
	}
}

// MessagingAttributes describes an event bus publish or receive.
func MessagingAttributes(system, destination, operation string, messageSize int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("messaging.system", system),
		attribute.String("messaging.destination.name", destination),
		attribute.String("messaging.operation", operation),
		attribute.Int("messaging.message.body.size", messageSize),
	}
}
