package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/drblury/cmdflow/internal/runtime/diagnostics"
	"github.com/drblury/cmdflow/internal/runtime/engine"
	errspkg "github.com/drblury/cmdflow/internal/runtime/errors"
	"github.com/drblury/cmdflow/internal/runtime/state"
)

// handleReceive waits for a message until deadline. A zero deadline waits
// indefinitely. The deadline is fixed when the request is first taken so a
// retry continues the remaining time.
func (d *Dispatcher) handleReceive(ctx context.Context, req *Request, op ReceiveOperation, deadline time.Time) (step, error) {
	if err := d.engine.CheckForOutOfSequenceMessages(); err != nil {
		return stepDone, err
	}

	link := d.engine.OpenForMessage(op.Destination)
	if link == nil {
		req.reply.Deliver(Result{Err: errspkg.NewInternalError("No link for %s could be found", op.Destination.Topic)})
		return stepDone, nil
	}

	waitCtx := ctx
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	available, err := d.poll(waitCtx, d.conf.LinkPollInterval, func() (bool, error) {
		if d.engine.HasMessage() {
			return true, nil
		}
		if _, err := d.engine.LinkUp(link); err != nil {
			return false, err
		}
		return false, nil
	})
	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		// the receive timeout expired; try once more before giving up
		if d.state.State() == state.Started {
			available = d.engine.DrainMessage(link)
		}
		if !available {
			req.reply.Deliver(Result{})
			return stepDone, nil
		}
	case err != nil:
		return stepDone, err
	case !available:
		return stepRetry, nil
	}

	msg, err := d.engine.CollectMessage()
	if err != nil {
		return stepDone, err
	}

	var confirm func(context.Context) error
	if op.Destination.QoS == engine.AtLeastOnce && !op.Destination.AutoConfirm {
		confirm = d.confirmer(op.Destination)
	}
	req.reply.Deliver(Result{Delivery: engine.NewDelivery(msg, op.Destination, d.sessionID, confirm)})

	var ackErr error
	switch {
	case op.Destination.QoS == engine.AtMostOnce:
		ackErr = d.engine.Accept(link)
	case op.Destination.AutoConfirm:
		ackErr = d.engine.Settle(link)
	}
	if ackErr != nil {
		// the caller already has the message, so this is only worth recording
		d.report(req, diagnostics.TagRequestFailure, "acknowledging a received message failed", ackErr)
	}
	return stepDone, nil
}

// confirmer routes an explicit confirmation through the queue so only the
// worker touches the engine.
func (d *Dispatcher) confirmer(dest engine.Destination) func(context.Context) error {
	return func(ctx context.Context) error {
		return d.Do(ctx, NewRequest(confirmOperation{Destination: dest}, d.conf.DefaultRequestTimeout)).Err
	}
}

func (d *Dispatcher) handleConfirm(_ context.Context, req *Request, op confirmOperation) (step, error) {
	link := d.engine.OpenForMessage(op.Destination)
	if link == nil {
		req.reply.Deliver(Result{Err: &errspkg.UnsubscribedError{Topic: op.Destination.Topic}})
		return stepDone, nil
	}
	if err := d.engine.Settle(link); err != nil && !errors.Is(err, engine.ErrNoDelivery) {
		return stepDone, err
	}
	req.reply.Deliver(Result{})
	return stepDone, nil
}
