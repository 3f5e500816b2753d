package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies the gateway's tracer within the OTel SDK.
const TracerName = "gateway"

// TracingConfig configures span export. When Enabled is false no SDK is set
// up at all and the gateway traces against a no-op tracer.
type TracingConfig struct {
	Enabled     bool
	Endpoint    string // OTLP gRPC endpoint, host:port
	ServiceName string
	SampleRate  float64 // 0 never samples, 1 always, in between is a ratio
	Insecure    bool
}

// TracerProvider couples the gateway's tracer with the SDK provider that
// must be flushed at shutdown.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing sets up the OTLP exporter and installs the provider globally,
// so trace context propagates across the gateway's outbound fetches.
func InitTracing(ctx context.Context, cfg TracingConfig) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{tracer: otel.Tracer(TracerName)}, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SampleRate)),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{provider: provider, tracer: provider.Tracer(TracerName)}, nil
}

func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Tracer returns the tracer every gateway component should record spans on.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// Shutdown flushes pending spans. A provider built with tracing disabled has
// nothing to flush.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

// FetchSpanAttributes identifies one upstream fetch on its span.
type FetchSpanAttributes struct {
	Service string
	Method  string
	Path    string
}

// StartFetchSpan opens a client span for an upstream fetch.
func StartFetchSpan(ctx context.Context, tracer trace.Tracer, operation string, attrs FetchSpanAttributes) (context.Context, trace.Span) {
	return tracer.Start(ctx, operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gateway.service", attrs.Service),
			attribute.String("gateway.method", attrs.Method),
			attribute.String("gateway.path", attrs.Path),
		),
	)
}

// RecordFetchResponse records the upstream outcome on a fetch span.
func RecordFetchResponse(span trace.Span, statusCode int, bytesRead int) {
	span.SetAttributes(
		attribute.Int("gateway.response.status_code", statusCode),
		attribute.Int("gateway.response.bytes", bytesRead),
	)
}

// RecordError marks a span failed.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetAttributes(attribute.Bool("error", true))
}
