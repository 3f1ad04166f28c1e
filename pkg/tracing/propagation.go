package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Inject writes the trace context of ctx into carrier using the global propagator.
//
// Example:
//
//	headers := propagation.MapCarrier{}
//	tracing.Inject(ctx, headers)
func Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// Extract returns ctx enriched with the remote trace context found in carrier.
func Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// InjectMap is Inject into a fresh map, which is what event envelopes carry.
// It returns nil when ctx holds nothing to propagate.
func InjectMap(ctx context.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	Inject(ctx, carrier)
	if len(carrier) == 0 {
		return nil
	}
	return carrier
}

// ExtractMap is Extract from a map produced by InjectMap.
func ExtractMap(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return Extract(ctx, propagation.MapCarrier(headers))
}
