package runtime

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/cmdflow/internal/runtime/logging"
)

// RequestContext describes a request to hooks.
type RequestContext struct {
	// RequestID is the identifier assigned when the request was created.
	RequestID string
	// Operation is the operation name (send, subscribe, ...).
	Operation string
	// Topic is the destination topic the request targets.
	Topic string
	// Context is the worker-side context of the request, carrying its span.
	Context context.Context
	// StartedAt is when the worker took the request.
	StartedAt time.Time
	// Duration is only set in OnRequestDone and OnRequestError.
	Duration time.Duration
	// Attempt counts handler invocations, starting at 1.
	Attempt int
}

// RequestHooks are optional callbacks around request processing. They run
// on the worker goroutine and must not block.
type RequestHooks struct {
	// OnRequestStart is called when the worker takes the request.
	OnRequestStart func(ctx RequestContext)
	// OnRequestDone is called when the request completes without error.
	OnRequestDone func(ctx RequestContext)
	// OnRequestError is called when the caller receives an error.
	OnRequestError func(ctx RequestContext, err error)
	// OnRetry is called each time the request is parked for an in-place retry.
	OnRetry func(ctx RequestContext)
}

// Merge combines two RequestHooks. The hooks from other run after those
// from h.
func (h RequestHooks) Merge(other RequestHooks) RequestHooks {
	return RequestHooks{
		OnRequestStart: chainHooks(h.OnRequestStart, other.OnRequestStart),
		OnRequestDone:  chainHooks(h.OnRequestDone, other.OnRequestDone),
		OnRequestError: chainErrorHooks(h.OnRequestError, other.OnRequestError),
		OnRetry:        chainHooks(h.OnRetry, other.OnRetry),
	}
}

func chainHooks(a, b func(RequestContext)) func(RequestContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx RequestContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(RequestContext, error)) func(RequestContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx RequestContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h RequestHooks) start(ctx RequestContext) {
	if h.OnRequestStart != nil {
		h.OnRequestStart(ctx)
	}
}

func (h RequestHooks) retry(ctx RequestContext) {
	if h.OnRetry != nil {
		h.OnRetry(ctx)
	}
}

func (h RequestHooks) finish(ctx RequestContext, err error) {
	if err != nil {
		if h.OnRequestError != nil {
			h.OnRequestError(ctx, err)
		}
		return
	}
	if h.OnRequestDone != nil {
		h.OnRequestDone(ctx)
	}
}

// LoggingHooks logs request lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) RequestHooks {
	return RequestHooks{
		OnRequestStart: func(ctx RequestContext) {
			logger.Debug("Request started", loggingpkg.LogFields{
				"request_id": ctx.RequestID,
				"operation":  ctx.Operation,
				"topic":      ctx.Topic,
			})
		},
		OnRequestDone: func(ctx RequestContext) {
			logger.Debug("Request completed", loggingpkg.LogFields{
				"request_id":  ctx.RequestID,
				"operation":   ctx.Operation,
				"topic":       ctx.Topic,
				"attempts":    ctx.Attempt,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
		OnRequestError: func(ctx RequestContext, err error) {
			logger.Error("Request failed", err, loggingpkg.LogFields{
				"request_id":  ctx.RequestID,
				"operation":   ctx.Operation,
				"topic":       ctx.Topic,
				"attempts":    ctx.Attempt,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
		OnRetry: func(ctx RequestContext) {
			logger.Info("Request parked until the connection recovers", loggingpkg.LogFields{
				"request_id": ctx.RequestID,
				"operation":  ctx.Operation,
				"attempt":    ctx.Attempt,
			})
		},
	}
}

// MetricsHooks records request outcomes and retries in m.
func MetricsHooks(m *Metrics) RequestHooks {
	return RequestHooks{
		OnRequestDone: func(ctx RequestContext) {
			m.RecordRequest(ctx.Operation, OutcomeSuccess, ctx.Duration)
		},
		OnRequestError: func(ctx RequestContext, err error) {
			m.RecordRequest(ctx.Operation, outcomeOf(Result{Err: err}), ctx.Duration)
		},
		OnRetry: func(ctx RequestContext) {
			m.RecordRetry(ctx.Operation)
		},
	}
}

// AlertingHooks calls alertFunc for every failed request.
func AlertingHooks(alertFunc func(ctx RequestContext, err error)) RequestHooks {
	return RequestHooks{
		OnRequestError: alertFunc,
	}
}
