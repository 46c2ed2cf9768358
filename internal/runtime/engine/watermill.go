package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	cmderrors "github.com/drblury/cmdflow/internal/runtime/errors"
	"github.com/drblury/cmdflow/internal/runtime/metadata"
)

// DefaultDrainWait bounds a single DrainMessage attempt.
const DefaultDrainWait = 50 * time.Millisecond

// WatermillEngine implements Engine over a watermill publisher/subscriber
// pair. Publishing and subscribing run on background goroutines; the
// dispatcher observes their progress through OutboundPending, TrackerStatus
// and LinkUp, or through Notify.
type WatermillEngine struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     watermill.LoggerAdapter
	drainWait  time.Duration

	notify chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	current  *tracker
	links    map[string]*watermillLink
	selected *watermillLink
}

// tracker follows one PutMessage. Only the most recent tracker is visible
// through OutboundPending and TrackerStatus; a publish that outlives its
// request updates its own tracker and nothing else.
type tracker struct {
	publishing bool
	status     TrackerStatus
	condition  string
}

type watermillLink struct {
	dest   Destination
	cancel context.CancelFunc

	// guarded by WatermillEngine.mu
	up       bool
	err      error
	messages <-chan *message.Message
	peeked   *message.Message
	unacked  []*message.Message
}

func (l *watermillLink) Destination() Destination { return l.dest }

// WatermillOption configures a WatermillEngine.
type WatermillOption func(*WatermillEngine)

// WithDrainWait overrides how long DrainMessage waits for an in-flight message.
func WithDrainWait(d time.Duration) WatermillOption {
	return func(e *WatermillEngine) {
		if d > 0 {
			e.drainWait = d
		}
	}
}

// NewWatermillEngine wires an engine to the given transport pair.
func NewWatermillEngine(pub message.Publisher, sub message.Subscriber, logger watermill.LoggerAdapter, opts ...WatermillOption) (*WatermillEngine, error) {
	if pub == nil || sub == nil {
		return nil, errors.New("cmdflow: watermill engine needs a publisher and a subscriber")
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	e := &WatermillEngine{
		publisher:  pub,
		subscriber: sub,
		logger:     logger.With(watermill.LogFields{"component": "engine"}),
		drainWait:  DefaultDrainWait,
		notify:     make(chan struct{}, 1),
		links:      make(map[string]*watermillLink),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Notify implements Notifier.
func (e *WatermillEngine) Notify() <-chan struct{} {
	return e.notify
}

func (e *WatermillEngine) signal() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

func (e *WatermillEngine) PutMessage(ctx context.Context, msg *Message, qos QoS) error {
	if msg == nil {
		return cmderrors.ErrMessageRequired
	}
	if msg.Topic == "" {
		return &cmderrors.ValidationError{Description: "message topic is required"}
	}

	props := msg.Properties.
		With(metadata.KeyQoS, qos.String()).
		With(metadata.KeyTopic, msg.Topic)
	if msg.TTL > 0 {
		props = props.WithDuration(metadata.KeyTTL, msg.TTL)
	}
	out := message.NewMessage(msg.ID, msg.Payload)
	out.Metadata = metadata.ToWatermill(props)
	out.SetContext(context.WithoutCancel(ctx))

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return cmderrors.NewNetworkError(ErrEngineClosed)
	}
	t := &tracker{publishing: true, status: StatusPending}
	if qos == AtMostOnce {
		// at-most-once messages are pre-settled
		t.status = StatusSettled
	}
	e.current = t
	e.wg.Add(1)
	e.mu.Unlock()

	go e.publish(msg.Topic, out, qos, t)
	return nil
}

func (e *WatermillEngine) publish(topic string, out *message.Message, qos QoS, t *tracker) {
	defer e.wg.Done()
	err := e.publisher.Publish(topic, out)

	e.mu.Lock()
	t.publishing = false
	if qos == AtLeastOnce {
		t.status, t.condition = e.publishOutcome(err)
	}
	e.mu.Unlock()

	if err != nil {
		e.logger.Error("Publish failed", err, watermill.LogFields{"topic": topic, "message_uuid": out.UUID})
	}
	e.signal()
}

// publishOutcome maps a publish result onto a tracker status. Must be called
// with mu held.
func (e *WatermillEngine) publishOutcome(err error) (TrackerStatus, string) {
	switch {
	case err == nil:
		return StatusAccepted, ""
	case e.closed:
		return StatusReleased, ""
	case isConnectionError(err):
		return StatusAborted, ""
	default:
		return StatusRejected, err.Error()
	}
}

func isConnectionError(err error) bool {
	var netErr net.Error
	return cmderrors.IsRetryable(err) ||
		errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (e *WatermillEngine) OutboundPending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil && e.current.publishing
}

func (e *WatermillEngine) TrackerStatus() TrackerStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return StatusNone
	}
	return e.current.status
}

func (e *WatermillEngine) TrackerConditionDescription(fallback string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil || e.current.condition == "" {
		return fallback
	}
	return e.current.condition
}

func (e *WatermillEngine) CreateSubscription(_ context.Context, dest Destination) (Link, error) {
	if dest.Topic == "" {
		return nil, cmderrors.ErrTopicRequired
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, cmderrors.NewNetworkError(ErrEngineClosed)
	}
	if existing, ok := e.links[dest.Key()]; ok {
		if existing.err == nil {
			return existing, nil
		}
		// a failed link has already reported its error; start over
		existing.release()
		existing.cancel()
		if e.selected == existing {
			e.selected = nil
		}
	}

	// The link outlives the request that created it.
	linkCtx, cancel := context.WithCancel(context.Background())
	l := &watermillLink{dest: dest, cancel: cancel}
	e.links[dest.Key()] = l

	e.wg.Add(1)
	go e.attach(linkCtx, l)
	return l, nil
}

func (e *WatermillEngine) attach(ctx context.Context, l *watermillLink) {
	defer e.wg.Done()
	messages, err := e.subscriber.Subscribe(ctx, l.dest.Topic)

	e.mu.Lock()
	switch {
	case err != nil && isConnectionError(err):
		l.err = cmderrors.NewNetworkError(err)
	case err != nil:
		l.err = err
	default:
		l.messages = messages
		l.up = true
	}
	e.mu.Unlock()

	if err != nil {
		e.logger.Error("Subscribe failed", err, watermill.LogFields{"destination": l.dest.Key()})
	} else {
		e.logger.Debug("Link attached", watermill.LogFields{"destination": l.dest.Key()})
	}
	e.signal()
}

func (e *WatermillEngine) LinkUp(link Link) (bool, error) {
	l, err := asWatermillLink(link)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return l.up, l.err
}

func (e *WatermillEngine) CloseLink(_ context.Context, dest Destination, ttl time.Duration) error {
	e.mu.Lock()
	l, ok := e.links[dest.Key()]
	if !ok {
		e.mu.Unlock()
		return &cmderrors.UnsubscribedError{Topic: dest.Topic}
	}
	delete(e.links, dest.Key())
	if e.selected == l {
		e.selected = nil
	}
	l.up = false
	l.release()
	e.mu.Unlock()

	// A non-zero TTL keeps the broker-side subscription around while the
	// link no longer serves callers.
	if ttl > 0 {
		time.AfterFunc(ttl, l.cancel)
	} else {
		l.cancel()
	}
	e.logger.Debug("Link closed", watermill.LogFields{"destination": dest.Key(), "ttl": ttl})
	e.signal()
	return nil
}

// Reconnect implements Reconnector. Links whose subscription closed are
// subscribed again; links that never attached are dropped so the next
// CreateSubscription starts over.
func (e *WatermillEngine) Reconnect(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return cmderrors.NewNetworkError(ErrEngineClosed)
	}
	var broken []*watermillLink
	for key, l := range e.links {
		switch {
		case l.err == nil:
		case l.messages == nil:
			l.cancel()
			delete(e.links, key)
			if e.selected == l {
				e.selected = nil
			}
		default:
			broken = append(broken, l)
		}
	}
	e.mu.Unlock()

	var errs []error
	for _, l := range broken {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.resubscribe(l); err != nil {
			errs = append(errs, err)
		}
	}
	e.signal()
	return errors.Join(errs...)
}

func (e *WatermillEngine) resubscribe(l *watermillLink) error {
	linkCtx, cancel := context.WithCancel(context.Background())
	messages, err := e.subscriber.Subscribe(linkCtx, l.dest.Topic)
	if err != nil {
		cancel()
		return fmt.Errorf("resubscribe %s: %w", l.dest.Key(), err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.links[l.dest.Key()] != l {
		// closed while the subscribe was in flight
		cancel()
		return nil
	}
	l.cancel()
	l.cancel = cancel
	l.messages = messages
	l.err = nil
	l.up = true
	e.logger.Debug("Link re-attached", watermill.LogFields{"destination": l.dest.Key()})
	return nil
}

// release hands peeked and unacknowledged messages back to the broker.
func (l *watermillLink) release() {
	if l.peeked != nil {
		l.peeked.Nack()
		l.peeked = nil
	}
	for _, m := range l.unacked {
		m.Nack()
	}
	l.unacked = nil
}

func (e *WatermillEngine) CheckForOutOfSequenceMessages() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, l := range e.links {
		if l != e.selected && l.peeked != nil {
			l.peeked.Nack()
			l.peeked = nil
		}
	}
	return nil
}

func (e *WatermillEngine) OpenForMessage(dest Destination) Link {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.links[dest.Key()]
	if !ok || !l.up {
		return nil
	}
	e.selected = l
	return l
}

func (e *WatermillEngine) HasMessage() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	l := e.selected
	if l == nil {
		return false
	}
	if l.peeked != nil {
		return true
	}
	select {
	case m, ok := <-l.messages:
		if !ok {
			l.up = false
			l.err = cmderrors.NewNetworkError(fmt.Errorf("subscription to %s closed", l.dest.Topic))
			return false
		}
		l.peeked = m
		return true
	default:
		return false
	}
}

func (e *WatermillEngine) DrainMessage(link Link) bool {
	l, err := asWatermillLink(link)
	if err != nil {
		return false
	}

	e.mu.Lock()
	if l.peeked != nil {
		e.mu.Unlock()
		return true
	}
	messages := l.messages
	e.mu.Unlock()
	if messages == nil {
		return false
	}

	timer := time.NewTimer(e.drainWait)
	defer timer.Stop()
	select {
	case m, ok := <-messages:
		if !ok {
			return false
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		l.peeked = m
		return true
	case <-timer.C:
		return false
	}
}

func (e *WatermillEngine) CollectMessage() (*Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l := e.selected
	if l == nil || l.peeked == nil {
		return nil, &cmderrors.ProtocolStateError{Err: errors.New("no message available to collect")}
	}
	m := l.peeked
	l.peeked = nil
	l.unacked = append(l.unacked, m)

	props := metadata.FromWatermill(m.Metadata)
	topic := props.Get(metadata.KeyTopic)
	if topic == "" {
		topic = l.dest.Topic
	}
	return &Message{
		ID:         m.UUID,
		Topic:      topic,
		Payload:    m.Payload,
		Properties: props,
		TTL:        props.Duration(metadata.KeyTTL),
	}, nil
}

func (e *WatermillEngine) Accept(link Link) error {
	return e.ack(link)
}

func (e *WatermillEngine) Settle(link Link) error {
	return e.ack(link)
}

func (e *WatermillEngine) ack(link Link) error {
	l, err := asWatermillLink(link)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(l.unacked) == 0 {
		return ErrNoDelivery
	}
	m := l.unacked[0]
	l.unacked = l.unacked[1:]
	m.Ack()
	return nil
}

// Close detaches every link, waits for background publishes and subscribes
// to finish and closes the transport pair.
func (e *WatermillEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for key, l := range e.links {
		l.release()
		l.cancel()
		delete(e.links, key)
	}
	e.selected = nil
	e.mu.Unlock()

	e.wg.Wait()
	return errors.Join(e.publisher.Close(), e.subscriber.Close())
}

func asWatermillLink(link Link) (*watermillLink, error) {
	l, ok := link.(*watermillLink)
	if !ok || l == nil {
		return nil, cmderrors.NewInternalError("link %v was not created by this engine", link)
	}
	return l, nil
}

var (
	_ Engine      = (*WatermillEngine)(nil)
	_ Notifier    = (*WatermillEngine)(nil)
	_ Reconnector = (*WatermillEngine)(nil)
)
