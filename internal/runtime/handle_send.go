package runtime

import (
	"context"
	"errors"

	"github.com/drblury/cmdflow/internal/runtime/engine"
	errspkg "github.com/drblury/cmdflow/internal/runtime/errors"
	"github.com/drblury/cmdflow/internal/runtime/state"
)

// step tells the request-processing routine whether a handler finished or
// needs the connection to recover before running again.
type step int

const (
	stepDone step = iota
	stepRetry
)

func (d *Dispatcher) handleSend(ctx context.Context, req *Request, op SendOperation) (step, error) {
	if err := d.engine.PutMessage(ctx, op.Message, op.QoS); err != nil {
		return d.sendFailure(req, err)
	}

	drained, err := d.poll(ctx, d.conf.PollInterval, func() (bool, error) {
		return !d.engine.OutboundPending(), nil
	})
	if err != nil {
		return d.sendFailure(req, err)
	}
	if !drained {
		return stepRetry, nil
	}

	settled, err := d.poll(ctx, d.conf.PollInterval, func() (bool, error) {
		return d.engine.TrackerStatus() != engine.StatusPending, nil
	})
	if err != nil {
		return d.sendFailure(req, err)
	}
	if !settled || d.state.State() != state.Started {
		return stepRetry, nil
	}

	next, replyErr := sendOutcome(d.engine.TrackerStatus(), d.engine.TrackerConditionDescription)
	if next == stepRetry {
		return stepRetry, nil
	}
	req.reply.Deliver(Result{Err: replyErr})
	return stepDone, nil
}

// sendFailure answers engine timeouts directly and leaves every other error
// to the request-processing routine.
func (d *Dispatcher) sendFailure(req *Request, err error) (step, error) {
	if errors.Is(err, engine.ErrEngineTimeout) {
		req.reply.Deliver(Result{Err: &errspkg.TimeoutError{Message: "send request did not complete within the requested period"}})
		return stepDone, nil
	}
	return stepDone, err
}

// sendOutcome maps the final tracker status onto the caller-visible result.
// Aborted deliveries are retried rather than reported.
func sendOutcome(status engine.TrackerStatus, describe func(fallback string) string) (step, error) {
	switch status {
	case engine.StatusNone, engine.StatusPending, engine.StatusAccepted, engine.StatusSettled:
		return stepDone, nil
	case engine.StatusRejected:
		return stepDone, &errspkg.ValidationError{Description: describe("send failed - message was rejected")}
	case engine.StatusReleased:
		return stepDone, errspkg.NewInternalError("send failed - message was released")
	case engine.StatusModified:
		return stepDone, errspkg.NewInternalError("send failed - message was modified")
	case engine.StatusAborted:
		return stepRetry, nil
	default:
		return stepDone, errspkg.NewInternalError("send failed - unknown status %d", int(status))
	}
}
