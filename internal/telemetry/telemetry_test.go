package telemetry

import (
	"context"
	"testing"
)

func TestInit_NoopWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	p, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if p.Tracer() == nil {
		t.Fatal("expected non-nil noop tracer")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown on noop provider should be a no-op, got %v", err)
	}
}

func TestInit_NoneExporter(t *testing.T) {
	cfg := Config{Enabled: true, Exporter: "none", ServiceName: "bookrag-test"}

	p, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if p.Tracer() == nil {
		t.Fatal("expected non-nil tracer")
	}
}

func TestInit_StdoutExporter(t *testing.T) {
	cfg := Config{
		Enabled:     true,
		Exporter:    "stdout",
		ServiceName: "bookrag-test",
		SampleRate:  1.0,
	}

	p, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	ctx, span := p.StartRequest(context.Background(), "/api/ask")
	if span == nil {
		t.Fatal("expected non-nil span")
	}
	span.End()

	if _, span := p.StartRetrieval(ctx, 5, 0.5); span != nil {
		span.End()
	}
}

func TestInit_UnsupportedExporter(t *testing.T) {
	cfg := Config{Enabled: true, Exporter: "carrier-pigeon"}
	if _, err := Init(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unsupported exporter")
	}
}
