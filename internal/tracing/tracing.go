// Package tracing wires OpenTelemetry spans around each connection's
// exchange, so a slow origin or a cache stampede shows up in a trace
// backend rather than only in logs and counters.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config controls whether tracing is active and how heavily it samples.
type Config struct {
	ServiceName   string
	Enabled       bool
	SamplingRatio float64
}

// Init installs a global TracerProvider per config and returns a shutdown
// function the caller must invoke at process exit. When config.Enabled is
// false, Init installs nothing and returns a no-op shutdown.
func Init(cfg Config) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: building resource: %w", err)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("tracing: creating exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SamplingRatio <= 0:
		sampler = sdktrace.NeverSample()
	case cfg.SamplingRatio >= 1:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRatio))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Tracer is the package-scoped entry point for starting connection spans.
var Tracer = func() trace.Tracer {
	return otel.Tracer("forwardproxy/connection")
}

// StartConnection opens the root span for one accepted connection.
func StartConnection(ctx context.Context, remoteAddr string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "proxy.connection", trace.WithAttributes(
		attribute.String("net.peer.addr", remoteAddr),
	))
}

// StartOriginFetch opens a child span covering the origin connect, send,
// and forward stages of a cache-miss exchange.
func StartOriginFetch(ctx context.Context, uri string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "proxy.origin_fetch", trace.WithAttributes(
		attribute.String("http.url", uri),
	))
}
