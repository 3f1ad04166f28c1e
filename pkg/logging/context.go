package logging

import (
	"context"

	"github.com/carlonicora/minimalism-service-cacher/pkg/config"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type contextKey string

const (
	loggerContextKey    = contextKey("cacher.logger")
	cascadeIDContextKey = contextKey("cacher.cascade_id")
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger)
}

// FromContext extracts a logger from the context, enriched with the active
// span and cascade IDs. If no logger is found, it returns a default logger.
func FromContext(ctx context.Context) *Logger {
	logger, ok := ctx.Value(loggerContextKey).(*Logger)
	if !ok {
		logger = New(defaultLogConfig())
	}
	return enrichLoggerFromContext(ctx, logger)
}

func defaultLogConfig() config.LogConfig {
	return config.LogConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}
}

func enrichLoggerFromContext(ctx context.Context, logger *Logger) *Logger {
	fields := make(map[string]interface{})

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields[TraceID] = sc.TraceID().String()
		fields[SpanID] = sc.SpanID().String()
	}

	if cascadeID := GetCascadeID(ctx); cascadeID != "" {
		fields[CascadeID] = cascadeID
	}

	if len(fields) > 0 {
		return logger.WithFields(fields)
	}

	return logger
}

// WithCascadeID adds a cascade ID to the context.
func WithCascadeID(ctx context.Context, cascadeID string) context.Context {
	return context.WithValue(ctx, cascadeIDContextKey, cascadeID)
}

// GetCascadeID retrieves the cascade ID from the context.
func GetCascadeID(ctx context.Context) string {
	if cascadeID, ok := ctx.Value(cascadeIDContextKey).(string); ok {
		return cascadeID
	}
	return ""
}

// Ctx returns the context logger as a *zerolog.Logger.
func Ctx(ctx context.Context) *zerolog.Logger {
	return FromContext(ctx).GetZerolog()
}
