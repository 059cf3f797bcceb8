package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "taskloom"

// StartStepSpan starts a span for one run-loop step of a task.
func StartStepSpan(ctx context.Context, taskID string, iteration int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "run.step",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.Int("run.iteration", iteration),
		),
	)
}

// StartToolCallSpan starts a span for a gated tool call.
func StartToolCallSpan(ctx context.Context, callID, tool string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "toolcall",
		trace.WithAttributes(
			attribute.String("toolcall.id", callID),
			attribute.String("toolcall.tool", tool),
		),
	)
}

// ToolAttr returns the metric attribute identifying a tool.
func ToolAttr(tool string) attribute.KeyValue {
	return attribute.String("tool", tool)
}
