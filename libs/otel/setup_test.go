package otelx

import (
	"context"
	"testing"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_ENABLED", "")
	cfg := ConfigFromEnv("relay-service")
	if cfg.Enabled {
		t.Fatal("expected tracing disabled without an endpoint")
	}

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "jaeger:4317")
	t.Setenv("OTEL_SAMPLING_RATIO", "0.25")
	cfg = ConfigFromEnv("relay-service")
	if !cfg.Enabled || cfg.OTLPEndpoint != "jaeger:4317" || cfg.SampleRatio != 0.25 {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	t.Setenv("OTEL_ENABLED", "false")
	if ConfigFromEnv("relay-service").Enabled {
		t.Fatal("expected OTEL_ENABLED=false to win")
	}
}

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

func TestContextFromHeaders(t *testing.T) {
	if _, err := Setup(context.Background(), Config{Enabled: false}); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	ctx := context.Background()
	if got := ContextFromHeaders(ctx, nil); got != ctx {
		t.Fatal("expected ctx returned unchanged without headers")
	}

	const parent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	got := ContextFromHeaders(ctx, map[string]string{"traceparent": parent})
	if TraceParent(got) != parent {
		t.Fatalf("expected %s, got %q", parent, TraceParent(got))
	}
	if TraceParent(ctx) != "" {
		t.Fatal("expected no traceparent for an empty context")
	}
}
