package pipeline

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/datapex/batchflow/pkg/observability"
)

// TracingObserver emits one OpenTelemetry span per stage transition.
type TracingObserver struct {
	runID string
}

// NewTracingObserver creates a tracing observer tagged with a fresh
// run ID.
func NewTracingObserver() *TracingObserver {
	return &TracingObserver{runID: observability.NewRunID()}
}

// StageStart opens a span for the stage; the span travels in the
// returned context until StageEnd closes it.
func (o *TracingObserver) StageStart(ctx context.Context, stage Stage, source string) context.Context {
	attrs := []attribute.KeyValue{
		attribute.String("pipeline.stage", string(stage)),
		attribute.String("pipeline.run_id", o.runID),
	}
	if source != "" {
		attrs = append(attrs, attribute.String("pipeline.source", source))
	}
	ctx, _ = observability.StartSpan(ctx, "pipeline."+string(stage), attrs...)
	return ctx
}

// StageEnd closes the stage span, recording the record count and any
// stage error.
func (o *TracingObserver) StageEnd(ctx context.Context, stage Stage, source string, records int, err error) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.Int("pipeline.records", records))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
