// Package observability wires OpenTelemetry tracing for batchflow.
// The pipeline emits one span per stage through its observer hook; this
// package owns tracer initialization, the exporter, and span helpers so
// the pipeline core never depends on whether tracing is enabled.
package observability

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config controls tracer initialization.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// SamplingRate in [0,1]; 0 disables sampling, 1 samples everything
	SamplingRate float64
	// PrettyPrint makes the stdout exporter human readable
	PrettyPrint bool
}

var tracer trace.Tracer = noop.NewTracerProvider().Tracer("batchflow")

// Init sets up a tracer provider with a stdout exporter and installs it
// globally. The returned shutdown function flushes pending spans.
func Init(cfg Config) (func(context.Context) error, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var opts []stdouttrace.Option
	if cfg.PrettyPrint {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SamplingRate <= 0:
		sampler = sdktrace.NeverSample()
	case cfg.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(tp)
	tracer = tp.Tracer(cfg.ServiceName)

	return tp.Shutdown, nil
}

// Tracer returns the active tracer. Before Init it is a noop tracer, so
// span emission is always safe.
func Tracer() trace.Tracer {
	return tracer
}

// StartSpan starts a span with the given name and attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// NewRunID returns a unique identifier for one pipeline run.
func NewRunID() string {
	return uuid.NewString()
}
