package workflow

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/stupidking717/kerdar-sub000/services/workflow"

func defaultTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

func (r *run) startRunSpan(ctx context.Context) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, "workflow.execute",
		trace.WithAttributes(
			attribute.String("workflow.id", r.workflow.ID),
			attribute.String("workflow.name", r.workflow.Name),
			attribute.String("execution.id", r.id),
			attribute.String("execution.mode", string(r.mode)),
		),
	)
}

func (r *run) startNodeSpan(ctx context.Context, node *Node) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, "workflow.node "+node.DisplayName(),
		trace.WithAttributes(
			attribute.String("execution.id", r.id),
			attribute.String("node.id", node.ID),
			attribute.String("node.name", node.DisplayName()),
			attribute.String("node.type", node.Type),
		),
	)
}

func endSpan(span trace.Span, status NodeStatus, err error) {
	span.SetAttributes(attribute.String("node.status", string(status)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
