package runtime

import (
	"context"
	"sync"

	errspkg "github.com/drblury/cmdflow/internal/runtime/errors"
)

// requestQueue is the FIFO between callers and the worker. One condition
// variable serves both directions: the worker waits on it for work, and
// pushers wait on it until their request has been taken.
type requestQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []*Request
	shutdown bool
}

func newRequestQueue() *requestQueue {
	q := &requestQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends req and blocks until the worker has taken it. It returns a
// StoppedError when the queue is shut down before that happens, and
// ctx.Err() (after withdrawing req) when ctx ends first.
func (q *requestQueue) push(ctx context.Context, req *Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shutdown {
		return &errspkg.StoppedError{}
	}
	q.items = append(q.items, req)
	q.cond.Broadcast()

	stop := context.AfterFunc(ctx, q.wake)
	defer stop()

	for !req.taken {
		if q.shutdown {
			return &errspkg.StoppedError{}
		}
		if err := ctx.Err(); err != nil {
			q.withdraw(req)
			return err
		}
		q.cond.Wait()
	}
	return nil
}

// withdraw removes req if it is still queued. Must be called with mu held.
func (q *requestQueue) withdraw(req *Request) {
	for i, queued := range q.items {
		if queued == req {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

// take blocks until a request is available and returns it. It returns false
// once the queue is shut down or stop reports true. stop is evaluated under
// the queue lock on every wake-up.
func (q *requestQueue) take(stop func() bool) (*Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.shutdown || stop() {
			return nil, false
		}
		if len(q.items) > 0 {
			req := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			req.taken = true
			q.cond.Broadcast()
			return req, true
		}
		q.cond.Wait()
	}
}

// shutdownWith sets the shutdown flag and releases every queued request with err.
// It returns the number of requests released.
func (q *requestQueue) shutdownWith(err error) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.shutdown = true
	pending := q.items
	q.items = nil
	for _, req := range pending {
		req.reply.Deliver(Result{Err: err})
	}
	q.cond.Broadcast()
	return len(pending)
}

func (q *requestQueue) isShutdown() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shutdown
}

func (q *requestQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// wake re-evaluates every waiter's condition.
func (q *requestQueue) wake() {
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}
