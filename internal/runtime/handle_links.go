package runtime

import (
	"context"

	errspkg "github.com/drblury/cmdflow/internal/runtime/errors"
)

func (d *Dispatcher) handleSubscribe(ctx context.Context, req *Request, op SubscribeOperation) (step, error) {
	link, err := d.engine.CreateSubscription(ctx, op.Destination)
	if err == nil {
		var up bool
		up, err = d.poll(ctx, d.conf.LinkPollInterval, func() (bool, error) {
			return d.engine.LinkUp(link)
		})
		if err == nil && !up {
			return stepRetry, nil
		}
	}
	if err != nil {
		if absorbed(ctx, err) {
			return stepDone, err
		}
		req.reply.Deliver(Result{Err: errspkg.WrapInternal(err)})
		return stepDone, nil
	}

	d.destinations.add(op.Destination)
	req.reply.Deliver(Result{})
	return stepDone, nil
}

// handleUnsubscribe writes no reply of its own. A failure goes to the
// request-processing routine like any uncaught error, and success is sealed
// there with an empty result.
func (d *Dispatcher) handleUnsubscribe(ctx context.Context, _ *Request, op UnsubscribeOperation) (step, error) {
	if err := d.engine.CloseLink(ctx, op.Destination, op.TTL); err != nil {
		return stepDone, err
	}
	d.destinations.remove(op.Destination)
	return stepDone, nil
}

// absorbed reports whether err belongs to the request-processing routine
// rather than to the caller: connection failures and protocol-state errors
// trigger a retry, and an expired context becomes a timeout.
func absorbed(ctx context.Context, err error) bool {
	return errspkg.IsRetryable(err) || errspkg.IsProtocolState(err) || ctx.Err() != nil
}
