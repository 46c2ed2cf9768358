package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/drblury/cmdflow/internal/runtime/engine"
	errspkg "github.com/drblury/cmdflow/internal/runtime/errors"
	"github.com/drblury/cmdflow/internal/runtime/state"
	transportpkg "github.com/drblury/cmdflow/internal/runtime/transport"
)

// SendOptions tune a single send.
type SendOptions struct {
	QoS engine.QoS
	// TTL overrides the message TTL when positive.
	TTL time.Duration
	// Timeout bounds the request, retries included. Zero uses the
	// configured default.
	Timeout time.Duration
}

// SubscribeOptions tune a subscription.
type SubscribeOptions struct {
	Share string
	QoS   engine.QoS
	// ManualConfirm requires at-least-once deliveries to be confirmed with
	// Delivery.Confirm instead of being settled on receipt.
	ManualConfirm bool
	// TTL is how long the server keeps the destination after the last
	// subscriber detaches.
	TTL     time.Duration
	Timeout time.Duration
}

// UnsubscribeOptions tune an unsubscribe.
type UnsubscribeOptions struct {
	Share   string
	TTL     time.Duration
	Timeout time.Duration
}

// ReceiveOptions tune a receive.
type ReceiveOptions struct {
	Share string
	// Timeout is how long to wait for a message. Zero waits until one
	// arrives.
	Timeout time.Duration
}

// Client is the synchronous API in front of a Dispatcher. Every method
// blocks until the worker has produced the outcome.
type Client struct {
	dispatcher *Dispatcher
	owned      *state.Cell
	closers    []func() error
	// caps is nil when the transport is unknown, which skips capability checks.
	caps *transportpkg.Capabilities

	closeOnce sync.Once
	closeErr  error
}

// NewClient wraps a started dispatcher. closers run in order on Close after
// the dispatcher has been joined.
func NewClient(d *Dispatcher, closers ...func() error) *Client {
	return &Client{dispatcher: d, closers: closers}
}

// Dispatcher exposes the underlying dispatcher.
func (c *Client) Dispatcher() *Dispatcher { return c.dispatcher }

// State reports the connection state.
func (c *Client) State() state.State { return c.dispatcher.state.State() }

// Capabilities reports what the transport supports, if known.
func (c *Client) Capabilities() (transportpkg.Capabilities, bool) {
	if c.caps == nil {
		return transportpkg.Capabilities{}, false
	}
	return *c.caps, true
}

// Destinations lists the active subscriptions.
func (c *Client) Destinations() []engine.Destination { return c.dispatcher.Destinations() }

// Send publishes msg and waits for the broker's verdict.
func (c *Client) Send(ctx context.Context, msg *engine.Message, opts SendOptions) error {
	if msg == nil {
		return errspkg.ErrMessageRequired
	}
	if msg.Topic == "" {
		return errspkg.ErrTopicRequired
	}
	if err := checkQoS(opts.QoS); err != nil {
		return err
	}
	if opts.TTL < 0 {
		return &errspkg.ValidationError{Description: "ttl cannot be negative"}
	}

	out := *msg
	if opts.TTL > 0 {
		out.TTL = opts.TTL
	}
	return c.dispatcher.Do(ctx, NewRequest(SendOperation{Message: &out, QoS: opts.QoS}, opts.Timeout)).Err
}

// Subscribe attaches a link for topic. Subscribing twice is a SubscribedError.
func (c *Client) Subscribe(ctx context.Context, topic string, opts SubscribeOptions) error {
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	if err := checkQoS(opts.QoS); err != nil {
		return err
	}
	if opts.TTL < 0 {
		return &errspkg.ValidationError{Description: "ttl cannot be negative"}
	}
	if opts.QoS == engine.AtLeastOnce && c.caps != nil && !c.caps.SupportsReliableDelivery() {
		return &errspkg.UnsupportedError{Option: fmt.Sprintf("qos %s on transport %s", opts.QoS, c.caps.Name)}
	}

	dest := engine.Destination{
		Topic:       topic,
		Share:       opts.Share,
		QoS:         opts.QoS,
		AutoConfirm: !opts.ManualConfirm,
		TTL:         opts.TTL,
	}
	if _, ok := c.dispatcher.destinations.lookup(dest); ok {
		return &errspkg.SubscribedError{Topic: topic}
	}
	return c.dispatcher.Do(ctx, NewRequest(SubscribeOperation{Destination: dest}, opts.Timeout)).Err
}

// Unsubscribe detaches an active subscription.
func (c *Client) Unsubscribe(ctx context.Context, topic string, opts UnsubscribeOptions) error {
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	if opts.TTL < 0 {
		return &errspkg.ValidationError{Description: "ttl cannot be negative"}
	}
	dest, ok := c.dispatcher.destinations.lookup(engine.Destination{Topic: topic, Share: opts.Share})
	if !ok {
		return &errspkg.UnsubscribedError{Topic: topic}
	}
	return c.dispatcher.Do(ctx, NewRequest(UnsubscribeOperation{Destination: dest, TTL: opts.TTL}, opts.Timeout)).Err
}

// Receive returns the next message on an active subscription, or nil when
// none arrived within opts.Timeout.
func (c *Client) Receive(ctx context.Context, topic string, opts ReceiveOptions) (*engine.Delivery, error) {
	if topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if opts.Timeout < 0 {
		return nil, &errspkg.ValidationError{Description: "timeout cannot be negative"}
	}
	dest, ok := c.dispatcher.destinations.lookup(engine.Destination{Topic: topic, Share: opts.Share})
	if !ok {
		return nil, &errspkg.UnsubscribedError{Topic: topic}
	}
	res := c.dispatcher.Do(ctx, NewRequest(ReceiveOperation{Destination: dest, Timeout: opts.Timeout}, 0))
	return res.Delivery, res.Err
}

// Close stops the client: the connection state moves to Stopped when the
// client owns it, the dispatcher is joined and the closers run.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.owned != nil {
			c.owned.ChangeState(state.Stopped)
		}
		errs := []error{c.dispatcher.Join()}
		for _, closeFn := range c.closers {
			errs = append(errs, closeFn())
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

func checkQoS(q engine.QoS) error {
	switch q {
	case engine.AtMostOnce, engine.AtLeastOnce:
		return nil
	default:
		return &errspkg.UnsupportedError{Option: fmt.Sprintf("qos %d", int(q))}
	}
}
