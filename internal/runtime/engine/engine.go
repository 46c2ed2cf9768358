// Package engine defines the protocol engine the dispatcher drives. The
// engine owns links, the outbound buffer and delivery tracking. It is not
// safe for concurrent use: the dispatcher guarantees only its worker
// goroutine calls into it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEngineTimeout is returned when the engine gives up on an operation.
	// The dispatcher reports it to the caller as a TimeoutError.
	ErrEngineTimeout = errors.New("cmdflow: engine operation timed out")
	// ErrEngineClosed is returned once the engine has been closed.
	ErrEngineClosed = errors.New("cmdflow: engine closed")
	// ErrNoDelivery is returned when there is nothing left to accept or settle.
	ErrNoDelivery = errors.New("cmdflow: no outstanding delivery on link")
)

// QoS is the delivery guarantee for sent and received messages.
type QoS int

const (
	AtMostOnce QoS = iota
	AtLeastOnce
)

func (q QoS) String() string {
	switch q {
	case AtMostOnce:
		return "at-most-once"
	case AtLeastOnce:
		return "at-least-once"
	default:
		return fmt.Sprintf("qos(%d)", int(q))
	}
}

// TrackerStatus is the delivery outcome of the last message handed to the
// engine.
type TrackerStatus int

const (
	StatusNone TrackerStatus = iota
	StatusPending
	StatusAccepted
	StatusRejected
	StatusReleased
	StatusModified
	StatusAborted
	StatusSettled
)

func (s TrackerStatus) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusPending:
		return "pending"
	case StatusAccepted:
		return "accepted"
	case StatusRejected:
		return "rejected"
	case StatusReleased:
		return "released"
	case StatusModified:
		return "modified"
	case StatusAborted:
		return "aborted"
	case StatusSettled:
		return "settled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Destination addresses a topic, optionally through a named share.
type Destination struct {
	Topic       string
	Share       string
	QoS         QoS
	AutoConfirm bool
	// TTL is how long the server keeps the destination after the last
	// subscriber detaches.
	TTL time.Duration
}

// Key identifies the link serving this destination.
func (d Destination) Key() string {
	if d.Share == "" {
		return "private:" + d.Topic
	}
	return "share:" + d.Share + ":" + d.Topic
}

func (d Destination) String() string {
	return d.Key()
}

// Link is an engine-owned receiver endpoint bound to one destination.
type Link interface {
	Destination() Destination
}

// Engine is the protocol engine contract.
type Engine interface {
	// PutMessage hands msg to the outbound buffer and starts tracking it.
	PutMessage(ctx context.Context, msg *Message, qos QoS) error
	// OutboundPending reports whether handed-off messages are still buffered.
	OutboundPending() bool
	// TrackerStatus reports the outcome of the last PutMessage.
	TrackerStatus() TrackerStatus
	// TrackerConditionDescription describes a rejection, or returns fallback.
	TrackerConditionDescription(fallback string) string

	CreateSubscription(ctx context.Context, dest Destination) (Link, error)
	LinkUp(link Link) (bool, error)
	CloseLink(ctx context.Context, dest Destination, ttl time.Duration) error

	// CheckForOutOfSequenceMessages reconciles deliveries that arrived on
	// links no longer selected for receive.
	CheckForOutOfSequenceMessages() error
	// OpenForMessage selects the link serving dest for receiving. It returns
	// nil when no such link exists.
	OpenForMessage(dest Destination) Link
	HasMessage() bool
	// DrainMessage makes one best-effort attempt to pull a message that is in
	// flight on link.
	DrainMessage(link Link) bool
	CollectMessage() (*Message, error)
	Accept(link Link) error
	Settle(link Link) error
}

// Notifier is implemented by engines that can signal completion instead of
// being polled. The channel receives a value whenever tracker, link or
// message state changes.
type Notifier interface {
	Notify() <-chan struct{}
}

// Reconnector is implemented by engines that can re-establish broken links
// once the transport is reachable again. Reconnect returns nil when the
// engine is ready to serve requests.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}
