package runtime

import (
	"time"

	"github.com/drblury/cmdflow/internal/runtime/engine"
	"github.com/drblury/cmdflow/internal/runtime/ids"
)

// Operation is one of SendOperation, SubscribeOperation,
// UnsubscribeOperation or ReceiveOperation.
type Operation interface {
	// Name is the short operation label used in logs and metrics.
	Name() string
	isOperation()
}

// SendOperation publishes Message with the given delivery guarantee.
type SendOperation struct {
	Message *engine.Message
	QoS     engine.QoS
}

// SubscribeOperation attaches a receiving link to Destination.
type SubscribeOperation struct {
	Destination engine.Destination
}

// UnsubscribeOperation detaches the link serving Destination. TTL is how
// long the server keeps the destination once detached.
type UnsubscribeOperation struct {
	Destination engine.Destination
	TTL         time.Duration
}

// ReceiveOperation waits up to Timeout for a message on Destination. A zero
// Timeout waits until a message arrives.
type ReceiveOperation struct {
	Destination engine.Destination
	Timeout     time.Duration
}

// confirmOperation settles the oldest unconfirmed delivery on Destination.
type confirmOperation struct {
	Destination engine.Destination
}

func (SendOperation) Name() string        { return "send" }
func (SubscribeOperation) Name() string   { return "subscribe" }
func (UnsubscribeOperation) Name() string { return "unsubscribe" }
func (ReceiveOperation) Name() string     { return "receive" }
func (confirmOperation) Name() string     { return "confirm" }

func (SendOperation) isOperation()        {}
func (SubscribeOperation) isOperation()   {}
func (UnsubscribeOperation) isOperation() {}
func (ReceiveOperation) isOperation()     {}
func (confirmOperation) isOperation()     {}

// Request is an enqueued operation. It must not be modified once pushed.
type Request struct {
	ID        string
	Operation Operation
	// Timeout bounds the whole request including retries. Receive requests
	// ignore it and use ReceiveOperation.Timeout instead.
	Timeout time.Duration

	reply *Reply
	// taken is set under the queue lock once the worker dequeues the request.
	taken bool
}

// NewRequest wraps op in a request with a fresh reply slot.
func NewRequest(op Operation, timeout time.Duration) *Request {
	return &Request{
		ID:        ids.NewRequestID(),
		Operation: op,
		Timeout:   timeout,
		reply:     NewReply(),
	}
}

// Reply returns the slot the worker delivers the outcome into.
func (r *Request) Reply() *Reply {
	return r.reply
}

func (r *Request) operationName() string {
	if r.Operation == nil {
		return "unknown"
	}
	return r.Operation.Name()
}

func (r *Request) topic() string {
	switch op := r.Operation.(type) {
	case SendOperation:
		if op.Message != nil {
			return op.Message.Topic
		}
	case SubscribeOperation:
		return op.Destination.Topic
	case UnsubscribeOperation:
		return op.Destination.Topic
	case ReceiveOperation:
		return op.Destination.Topic
	case confirmOperation:
		return op.Destination.Topic
	}
	return ""
}
