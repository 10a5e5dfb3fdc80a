package otel

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/louisbranch/imrelay"

// Setup initialises OpenTelemetry tracing for the given service.
//
// Tracing is opt-in: when IM_OTEL_ENDPOINT is empty or IM_OTEL_ENABLED is
// "false", Setup returns a no-op shutdown function and no global provider is
// registered. The trace-context propagator is always installed so route calls
// between nodes carry the caller's span even without an exporter.
//
// IM_OTEL_SAMPLE_RATIO samples root spans in [0,1]; spans with a sampled
// parent on another node are always kept.
func Setup(ctx context.Context, serviceName string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	otel.SetTextMapPropagator(propagation.TraceContext{})

	if strings.EqualFold(os.Getenv("IM_OTEL_ENABLED"), "false") {
		return noop, nil
	}
	endpoint := os.Getenv("IM_OTEL_ENDPOINT")
	if endpoint == "" {
		return noop, nil
	}
	ratio, err := sampleRatio(os.Getenv("IM_OTEL_SAMPLE_RATIO"))
	if err != nil {
		return noop, err
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return noop, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func sampleRatio(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 1, nil
	}
	ratio, err := strconv.ParseFloat(value, 64)
	if err != nil || ratio < 0 || ratio > 1 {
		return 0, fmt.Errorf("IM_OTEL_SAMPLE_RATIO must be between 0 and 1, got %q", value)
	}
	return ratio, nil
}

// Tracer returns the module tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
