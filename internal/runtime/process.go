package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/drblury/cmdflow/internal/runtime/diagnostics"
	errspkg "github.com/drblury/cmdflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/cmdflow/internal/runtime/logging"
	"github.com/drblury/cmdflow/internal/runtime/state"
)

// process runs one request to completion: it waits out connection
// recovery, invokes the handler, retries in place after connection
// failures and guarantees the caller receives exactly one result.
func (d *Dispatcher) process(workerCtx context.Context, req *Request) {
	startedAt := time.Now()
	spanCtx, span := startRequestSpan(workerCtx, d.tracer, req, d.sessionID)

	hookCtx := RequestContext{
		RequestID: req.ID,
		Operation: req.operationName(),
		Topic:     req.topic(),
		Context:   spanCtx,
		StartedAt: startedAt,
	}
	d.hooks.start(hookCtx)

	// Receive bounds itself; everything else is bounded by the request timeout.
	ctx, cancel := spanCtx, context.CancelFunc(func() {})
	var deadline time.Time
	if op, isReceive := req.Operation.(ReceiveOperation); isReceive {
		if op.Timeout > 0 {
			deadline = startedAt.Add(op.Timeout)
		}
	} else if timeout := d.requestTimeout(req); timeout > 0 {
		ctx, cancel = context.WithTimeout(spanCtx, timeout)
	}

	attempts := d.attempt(workerCtx, ctx, req, deadline, hookCtx)
	cancel()

	// Requests that finish without writing a reply (unsubscribe) are sealed
	// with an empty success.
	req.reply.Deliver(Result{})
	res := req.reply.Wait(context.Background())

	hookCtx.Attempt = attempts
	hookCtx.Duration = time.Since(startedAt)
	d.hooks.finish(hookCtx, res.Err)
	endRequestSpan(span, res, attempts)
}

// attempt is the retry sub-loop. It returns the number of handler
// invocations.
func (d *Dispatcher) attempt(workerCtx, ctx context.Context, req *Request, deadline time.Time, hookCtx RequestContext) (attempts int) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic while processing %s: %v", req.operationName(), r)
			d.report(req, diagnostics.TagWorkerPanic, "handler panicked", err)
			req.reply.Deliver(Result{Err: errspkg.WrapInternal(err)})
		}
	}()

	for {
		current, err := d.awaitStarted(ctx)
		if err != nil {
			d.fail(workerCtx, ctx, req, err)
			return attempts
		}
		if current == state.Stopped {
			req.reply.Deliver(Result{Err: &errspkg.StoppedError{Message: "client stopped before the request completed"}})
			return attempts
		}

		attempts++
		next, err := d.dispatch(ctx, req, deadline)
		if !d.shouldRetry(req, next, err) {
			if err != nil {
				d.fail(workerCtx, ctx, req, err)
			}
			return attempts
		}

		if errspkg.IsProtocolState(err) {
			if reconcileErr := d.engine.CheckForOutOfSequenceMessages(); reconcileErr != nil {
				d.logger.Error("Reconciling message sequencing failed", reconcileErr, loggingpkg.LogFields{"request_id": req.ID})
			}
		}
		if d.state.State() != state.Stopped {
			d.state.ChangeState(state.Retrying)
		}
		hookCtx.Attempt = attempts
		d.hooks.retry(hookCtx)
	}
}

// shouldRetry reports whether the request must be re-run once the connection
// recovers. A request whose caller already has a result is never re-run.
func (d *Dispatcher) shouldRetry(req *Request, next step, err error) bool {
	if req.reply.Delivered() {
		return false
	}
	if err != nil {
		return errspkg.IsRetryable(err) || errspkg.IsProtocolState(err)
	}
	return next == stepRetry
}

// fail delivers err to the caller. Deadline expiry becomes a TimeoutError
// and worker cancellation a StoppedError; anything else is unexpected and is
// also reported to diagnostics.
func (d *Dispatcher) fail(workerCtx, ctx context.Context, req *Request, err error) {
	switch {
	case workerCtx.Err() != nil:
		req.reply.Deliver(Result{Err: &errspkg.StoppedError{Message: "dispatcher shut down before the request completed"}})
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		req.reply.Deliver(Result{Err: &errspkg.TimeoutError{Message: "command timeout has expired"}})
	default:
		d.report(req, diagnostics.TagRequestFailure, "unexpected failure while processing request", err)
		req.reply.Deliver(Result{Err: errspkg.WrapInternal(err)})
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, req *Request, deadline time.Time) (step, error) {
	switch op := req.Operation.(type) {
	case SendOperation:
		return d.handleSend(ctx, req, op)
	case SubscribeOperation:
		return d.handleSubscribe(ctx, req, op)
	case UnsubscribeOperation:
		return d.handleUnsubscribe(ctx, req, op)
	case ReceiveOperation:
		return d.handleReceive(ctx, req, op, deadline)
	case confirmOperation:
		return d.handleConfirm(ctx, req, op)
	default:
		return stepDone, errspkg.NewInternalError("unsupported operation %T", op)
	}
}

func (d *Dispatcher) requestTimeout(req *Request) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	return d.conf.DefaultRequestTimeout
}
