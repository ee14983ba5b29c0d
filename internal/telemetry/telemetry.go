// Package telemetry provides OpenTelemetry distributed tracing for
// bookrag, with span helpers for the request, retrieval, cache, upstream,
// and MCP stages. Only MCP method dispatch (internal/mcp) starts spans;
// the other helpers have no callers outside this package's tests.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/bookrag/bookrag"

// Config holds tracing configuration.
type Config struct {
	Enabled     bool
	Exporter    string // "otlp", "stdout", or "none"
	Endpoint    string
	SampleRate  float64
	ServiceName string
	Insecure    bool
}

// DefaultConfig returns tracing defaults (disabled).
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		Exporter:    "otlp",
		Endpoint:    "localhost:4317",
		SampleRate:  1.0,
		ServiceName: "bookrag",
		Insecure:    true,
	}
}

// Provider wraps the OTEL TracerProvider and exposes bookrag-specific
// span helpers.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// Init sets up the global TracerProvider based on cfg. The returned
// Provider must be shut down with Shutdown().
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{tracer: trace.NewNoopTracerProvider().Tracer(tracerName)}, nil
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("telemetry: create OTLP exporter: %w", err)
		}
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("telemetry: create stdout exporter: %w", err)
		}
	case "none", "":
		return &Provider{tracer: trace.NewNoopTracerProvider().Tracer(tracerName)}, nil
	default:
		return nil, fmt.Errorf("telemetry: unsupported exporter %q (supported: otlp, stdout, none)", cfg.Exporter)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("0.1.0"),
		),
		resource.WithProcessRuntimeDescription(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate < 1.0 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{tp: tp, tracer: tp.Tracer(tracerName)}, nil
}

// Shutdown flushes pending spans and shuts down the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Tracer returns the bookrag tracer for creating spans.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// StartRequest creates a root span for an incoming HTTP/WS request.
func (p *Provider) StartRequest(ctx context.Context, endpoint string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "bookrag.request",
		trace.WithAttributes(attribute.String("bookrag.endpoint", endpoint)),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartRetrieval creates a span for the hybrid retrieval stage.
func (p *Provider) StartRetrieval(ctx context.Context, topK int, keywordWeight float64) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "bookrag.retrieval",
		trace.WithAttributes(
			attribute.Int("bookrag.retrieval.top_k", topK),
			attribute.Float64("bookrag.retrieval.keyword_weight", keywordWeight),
		),
	)
}

// StartCacheLookup creates a span for a cache lookup.
func (p *Provider) StartCacheLookup(ctx context.Context, kind string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "bookrag.cache.lookup",
		trace.WithAttributes(attribute.String("bookrag.cache.kind", kind)),
	)
}

// StartUpstream creates a span for an upstream LLM call.
func (p *Provider) StartUpstream(ctx context.Context, streaming bool) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "bookrag.upstream",
		trace.WithAttributes(attribute.Bool("bookrag.upstream.streaming", streaming)),
	)
}

// StartMCPMethod creates a span for an MCP JSON-RPC method dispatch.
func (p *Provider) StartMCPMethod(ctx context.Context, method string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "bookrag.mcp.method",
		trace.WithAttributes(attribute.String("bookrag.mcp.method", method)),
	)
}

// RecordResult adds common result attributes to a span.
func RecordResult(span trace.Span, resultCount int, latency time.Duration) {
	span.SetAttributes(
		attribute.Int("bookrag.result.count", resultCount),
		attribute.Int64("bookrag.result.latency_ms", latency.Milliseconds()),
	)
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetAttributes(attribute.Bool("error", true))
}
