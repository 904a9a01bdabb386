package observability

import (
	"context"
	"fmt"

	"spark/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the process tracer. It starts as the global no-op tracer.
var Tracer trace.Tracer = otel.Tracer("spark")

// Version is stamped onto the service resource.
var Version = "dev"

// TracingConfig is the tracer setup of one process.
type TracingConfig struct {
	Service  string
	Version  string
	Env      string
	Enabled  bool
	Exporter string
	Endpoint string
	// Insecure sends OTLP over plain HTTP.
	Insecure bool
	Ratio    float64
}

// TracingFromConfig derives the tracer setup of service from the app config.
// Outside production OTLP is sent without TLS.
func TracingFromConfig(cfg *config.Config, service string) TracingConfig {
	return TracingConfig{
		Service:  service,
		Version:  Version,
		Env:      cfg.Env,
		Enabled:  cfg.TracingEnabled,
		Exporter: cfg.TracingExporter,
		Endpoint: cfg.OTLPEndpoint,
		Insecure: !cfg.IsProduction(),
		Ratio:    cfg.TracingSampleRatio,
	}
}

// InitTracing installs the global tracer provider and W3C propagators for tc
// and returns the provider's shutdown. Disabled tracing only names Tracer.
func InitTracing(ctx context.Context, tc TracingConfig) (func(context.Context) error, error) {
	if !tc.Enabled {
		Tracer = otel.Tracer(tc.Service)
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporter(ctx, tc)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(tc.Service),
			semconv.ServiceVersion(tc.Version),
			semconv.DeploymentEnvironment(tc.Env),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(tc.Ratio)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	Tracer = tp.Tracer(tc.Service)
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, tc TracingConfig) (sdktrace.SpanExporter, error) {
	switch tc.Exporter {
	case config.ExporterOTLP:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(tc.Endpoint)}
		if tc.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otlp exporter for %s: %w", tc.Endpoint, err)
		}
		return exp, nil
	case config.ExporterStdout, "":
		return stdouttrace.New()
	default:
		return nil, fmt.Errorf("unsupported span exporter %q", tc.Exporter)
	}
}

// newSampler keeps a parent's decision and samples roots at ratio.
func newSampler(ratio float64) sdktrace.Sampler {
	root := sdktrace.TraceIDRatioBased(ratio)
	switch {
	case ratio >= 1:
		root = sdktrace.AlwaysSample()
	case ratio <= 0:
		root = sdktrace.NeverSample()
	}
	return sdktrace.ParentBased(root)
}

// Span wraps an OpenTelemetry span for convenience.
type Span struct {
	span trace.Span
}

// NewSpan starts a new span and returns the wrapper and updated context.
func NewSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (*Span, context.Context) {
	ctx, span := Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return &Span{span: span}, ctx
}

// SetError records the error on the span and sets span status to Error.
func (s *Span) SetError(err error) {
	if s.span != nil && err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
}

// End completes the span.
func (s *Span) End() {
	if s.span != nil {
		s.span.End()
	}
}
