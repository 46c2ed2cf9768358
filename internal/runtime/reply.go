package runtime

import (
	"context"
	"sync"

	"github.com/drblury/cmdflow/internal/runtime/engine"
)

// Result is the outcome of a request. Both fields nil means success with no
// payload, which is also what a receive that timed out without a message
// yields.
type Result struct {
	Delivery *engine.Delivery
	Err      error
}

// Reply is a single-slot handoff from the worker to the caller blocked on a
// request. The first Deliver wins; later ones are ignored.
type Reply struct {
	once   sync.Once
	done   chan struct{}
	result Result
}

func NewReply() *Reply {
	return &Reply{done: make(chan struct{})}
}

// Deliver stores res and releases the waiter. It reports whether this call
// supplied the result.
func (r *Reply) Deliver(res Result) bool {
	delivered := false
	r.once.Do(func() {
		r.result = res
		close(r.done)
		delivered = true
	})
	return delivered
}

// Delivered reports whether a result is available.
func (r *Reply) Delivered() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Done is closed once a result is available.
func (r *Reply) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the result is delivered or ctx ends, in which case the
// context error is returned as the result error.
func (r *Reply) Wait(ctx context.Context) Result {
	select {
	case <-r.done:
		return r.result
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	}
}
