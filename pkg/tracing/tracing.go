// Package tracing configures OpenTelemetry tracing for fuzzing runs.
// When no endpoint is configured a no-op tracer is returned, so callers
// never need to nil-check.
package tracing

import (
	"context"
	"fmt"
	"time"

	"github.com/waftester/webfuzzer/pkg/defaults"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// InstrumentationName is the tracer name used by the engine and dispatcher.
const InstrumentationName = "github.com/waftester/webfuzzer"

// Options configures the OTLP exporter.
type Options struct {
	// Endpoint is the OTLP/gRPC endpoint (e.g. "localhost:4317").
	// Empty disables tracing.
	Endpoint string

	// ServiceName is the service name for traces (default: "webfuzzer").
	ServiceName string

	// Insecure uses a plaintext connection.
	Insecure bool

	// Headers are sent with every export.
	Headers map[string]string

	// ConnectionTimeout bounds exporter construction (default: 10s).
	ConnectionTimeout time.Duration
}

// Provider owns the tracer provider and its shutdown.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// Setup builds a Provider. With an empty endpoint it returns a no-op provider.
func Setup(ctx context.Context, opts Options) (*Provider, error) {
	if opts.Endpoint == "" {
		return &Provider{tracer: Noop()}, nil
	}
	if opts.ServiceName == "" {
		opts.ServiceName = defaults.ToolName
	}
	if opts.ConnectionTimeout == 0 {
		opts.ConnectionTimeout = 10 * time.Second
	}

	exporterOpts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(opts.Endpoint),
	}
	if opts.Insecure {
		exporterOpts = append(exporterOpts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	if len(opts.Headers) > 0 {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithHeaders(opts.Headers))
	}

	ctx, cancel := context.WithTimeout(ctx, opts.ConnectionTimeout)
	defer cancel()

	exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("tracing: create exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(opts.ServiceName),
		semconv.ServiceVersion(defaults.Version),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp, tracer: tp.Tracer(InstrumentationName)}, nil
}

// Tracer returns the tracer for run and probe spans.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return Noop()
	}
	return p.tracer
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool {
	return p != nil && p.tp != nil
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Noop returns a tracer that records nothing.
func Noop() trace.Tracer {
	return noop.NewTracerProvider().Tracer(InstrumentationName)
}
