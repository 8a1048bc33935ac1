package logger

import (
	"context"

	"duetrec/pkg/tracing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	duetIDKey
)

// WithRequestID stores a request id for ContextLogger to pick up.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithDuetID tags ctx with the duet a request operates on.
func WithDuetID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, duetIDKey, id)
}

// ContextLogger provides context-aware logging
type ContextLogger struct {
	logger *zap.Logger
}

// NewContextLogger creates a new context logger
func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{
		logger: logger,
	}
}

// WithContext adds trace, request and duet ids found in ctx.
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.Logger {
	fields := []zapcore.Field{}

	if traceID := tracing.TraceID(ctx); traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		fields = append(fields, zap.String("request_id", id))
	}
	if id, ok := ctx.Value(duetIDKey).(string); ok {
		fields = append(fields, zap.String("duet_id", id))
	}

	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

// Sugar is WithContext for callers using the sugared API.
func (cl *ContextLogger) Sugar(ctx context.Context) *zap.SugaredLogger {
	return cl.WithContext(ctx).Sugar()
}

// LogRequest logs an HTTP request with context
func (cl *ContextLogger) LogRequest(ctx context.Context, method, path string, statusCode int, durationMs int64) {
	l := cl.WithContext(ctx)
	fields := []zapcore.Field{
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status_code", statusCode),
		zap.Int64("duration_ms", durationMs),
	}
	switch {
	case statusCode >= 500:
		l.Error("http_request", fields...)
	case statusCode >= 400:
		l.Warn("http_request", fields...)
	default:
		l.Info("http_request", fields...)
	}
}

// LogError logs an error with context
func (cl *ContextLogger) LogError(ctx context.Context, err error, message string, fields ...zapcore.Field) {
	cl.WithContext(ctx).With(zap.Error(err)).Error(message, fields...)
}
