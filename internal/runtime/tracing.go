package runtime

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "cmdflow-dispatcher"

func defaultTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// startRequestSpan opens the span covering one request from dequeue to reply.
func startRequestSpan(ctx context.Context, tracer trace.Tracer, req *Request, sessionID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "cmdflow."+req.operationName(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cmdflow.request_id", req.ID),
			attribute.String("cmdflow.operation", req.operationName()),
			attribute.String("cmdflow.session_id", sessionID),
			attribute.String("messaging.destination.name", req.topic()),
		),
	)
}

func endRequestSpan(span trace.Span, res Result, attempts int) {
	span.SetAttributes(
		attribute.Int("cmdflow.attempts", attempts),
		attribute.String("cmdflow.outcome", outcomeOf(res)),
	)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
	span.End()
}
