package otel_test

import (
	"context"
	"testing"

	"github.com/louisbranch/imrelay/internal/platform/otel"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	t.Setenv("IM_OTEL_ENDPOINT", "")
	t.Setenv("IM_OTEL_ENABLED", "")

	shutdown, err := otel.Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_NoopWhenExplicitlyDisabled(t *testing.T) {
	t.Setenv("IM_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("IM_OTEL_ENABLED", "false")

	shutdown, err := otel.Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestTracerStartsSpan(t *testing.T) {
	_, span := otel.Tracer().Start(context.Background(), "test")
	defer span.End()
	if span == nil {
		t.Fatal("expected span")
	}
}

func TestSetup_RejectsBadSampleRatio(t *testing.T) {
	t.Setenv("IM_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("IM_OTEL_ENABLED", "")
	t.Setenv("IM_OTEL_SAMPLE_RATIO", "2")

	if _, err := otel.Setup(context.Background(), "test-service"); err == nil {
		t.Fatal("expected error for sample ratio above 1")
	}
}
