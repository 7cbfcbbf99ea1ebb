// Package observability wires optional OpenTelemetry tracing. When no
// endpoint is configured the daemon never calls Setup and every
// otel.Tracer call falls back to the noop provider at zero cost.
package observability

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Params configures the OTLP/HTTP trace exporter.
type Params struct {
	// Endpoint is the collector host:port, without a scheme.
	Endpoint string
	// Insecure sends spans over plain HTTP.
	Insecure bool
	// Service and Version become the service.name and service.version
	// resource attributes.
	Service string
	Version string
}

// Setup installs a global tracer provider exporting to the configured
// OTLP endpoint. The returned shutdown func flushes buffered spans; call
// it before process exit.
func Setup(ctx context.Context, p Params) (func(context.Context) error, error) {
	if p.Endpoint == "" {
		return nil, errors.New("tracing endpoint required")
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(p.Endpoint)}
	if p.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("tracing: create exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", p.Service),
		attribute.String("service.version", p.Version),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
