// Package state models the connection-state machine the dispatcher reacts
// to. The dispatcher never drives transitions on its own; it only reads the
// current state, waits for changes, and asks for Retrying when a request
// fails because of the network.
package state

import (
	"context"
	"sync"
	"time"
)

// State is the lifecycle of the client's connection.
type State int32

const (
	Starting State = iota
	Started
	Retrying
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Started:
		return "started"
	case Retrying:
		return "retrying"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Recovering reports whether the connection is being (re)established, in
// which case no protocol operation may run.
func (s State) Recovering() bool {
	return s == Starting || s == Retrying
}

// Machine is the dispatcher's view of the externally owned state machine.
type Machine interface {
	State() State
	// ChangeState requests a transition. Requesting the current state is a
	// no-op.
	ChangeState(State)
	// WaitForStateChange blocks until the state differs from the value
	// observed on entry, the timeout elapses (zero waits forever) or ctx is
	// done. It returns the state observed on return.
	WaitForStateChange(ctx context.Context, timeout time.Duration) (State, error)
}

// Cell is an observable state value. Every transition closes the current
// notification channel and installs a fresh one, so any number of waiters
// wake on a single change.
type Cell struct {
	mu      sync.Mutex
	current State
	changed chan struct{}
	stopped chan struct{}
	hooks   []func(from, to State)
}

// NewCell returns a cell holding initial.
func NewCell(initial State) *Cell {
	c := &Cell{
		current: initial,
		changed: make(chan struct{}),
		stopped: make(chan struct{}),
	}
	if initial == Stopped {
		close(c.stopped)
	}
	return c
}

// State returns the current state.
func (c *Cell) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// ChangeState moves to next and wakes all waiters. Stopped is terminal: once
// reached, further transitions are ignored.
func (c *Cell) ChangeState(next State) {
	c.mu.Lock()
	if c.current == next || c.current == Stopped {
		c.mu.Unlock()
		return
	}
	prev := c.current
	c.current = next
	close(c.changed)
	c.changed = make(chan struct{})
	if next == Stopped {
		close(c.stopped)
	}
	hooks := c.hooks
	c.mu.Unlock()

	for _, hook := range hooks {
		hook(prev, next)
	}
}

// Changed returns a channel closed on the next transition.
func (c *Cell) Changed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

// Done returns a channel closed once the cell reaches Stopped.
func (c *Cell) Done() <-chan struct{} {
	return c.stopped
}

// OnChange registers fn to run after every transition, outside the lock.
func (c *Cell) OnChange(fn func(from, to State)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// WaitForStateChange implements Machine.
func (c *Cell) WaitForStateChange(ctx context.Context, timeout time.Duration) (State, error) {
	c.mu.Lock()
	changed := c.changed
	c.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-changed:
	case <-expired:
	case <-ctx.Done():
		return c.State(), ctx.Err()
	}
	return c.State(), nil
}

var _ Machine = (*Cell)(nil)
