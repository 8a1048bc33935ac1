package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "duetrec"

// TracerProvider wraps OpenTelemetry tracer provider
type TracerProvider struct {
	tp *tracesdk.TracerProvider
}

// Config contains tracing configuration
type Config struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	JaegerURL   string  `yaml:"jaeger_url"`
	Environment string  `yaml:"environment"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// DefaultConfig returns default tracing configuration
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		ServiceName: "duetrec",
		JaegerURL:   "http://localhost:14268/api/traces",
		Environment: "development",
		SampleRate:  1.0,
	}
}

// Init installs a Jaeger-backed tracer provider. Disabled tracing leaves the
// global no-op provider in place.
func Init(cfg Config) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String("1.0.0"),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{tp: tp}, nil
}

// Shutdown flushes and stops the tracer provider
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.tp != nil {
		return tp.tp.Shutdown(ctx)
	}
	return nil
}

// StartSpan starts a new span
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// AddSpanAttributes adds attributes to the current span
func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

// RecordError records an error in the current span
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// TraceID returns the hex trace id of the span in ctx, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Common span attributes
var (
	DuetIDKey     = attribute.Key("duet.id")
	TakeIDKey     = attribute.Key("duet.take_id")
	PhaseKey      = attribute.Key("duet.phase")
	LayoutKey     = attribute.Key("duet.layout")
	OriginalIDKey = attribute.Key("original.id")
	ArtifactIDKey = attribute.Key("artifact.id")
	DeviceIDKey   = attribute.Key("device.id")
	StoreKey      = attribute.Key("store.backend")
	DurationKey   = attribute.Key("duration_ms")
)

// TraceHTTPRequest traces an HTTP request
func TraceHTTPRequest(ctx context.Context, method, path string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("http.%s", method),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(method),
			semconv.HTTPRouteKey.String(path),
		),
	)
}

// TraceRecorderCommand traces a command handled by a duet recorder
func TraceRecorderCommand(ctx context.Context, command string, duetID string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("recorder.%s", command),
		trace.WithAttributes(
			attribute.String("recorder.command", command),
			DuetIDKey.String(duetID),
		),
	)
}

// TraceDeviceOperation traces a camera or microphone operation
func TraceDeviceOperation(ctx context.Context, operation, deviceID string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("device.%s", operation),
		trace.WithAttributes(
			attribute.String("device.operation", operation),
			DeviceIDKey.String(deviceID),
		),
	)
}

// TraceStoreOperation traces an artifact store or repository operation
func TraceStoreOperation(ctx context.Context, operation, backend string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("store.%s", operation),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("store.operation", operation),
			StoreKey.String(backend),
		),
	)
}

// MeasureDuration records the elapsed time of an operation on the current span
func MeasureDuration(ctx context.Context, start time.Time, operation string) {
	AddSpanAttributes(ctx,
		attribute.String("operation", operation),
		DurationKey.Int64(time.Since(start).Milliseconds()),
	)
}
