package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/drblury/cmdflow/internal/runtime/diagnostics"
	errspkg "github.com/drblury/cmdflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/cmdflow/internal/runtime/logging"
)

// Start spawns the worker goroutine and the connection-state watcher.
func (d *Dispatcher) Start() error {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()

	if d.started {
		return errspkg.ErrDispatcherRunning
	}
	if d.queue.isShutdown() {
		return &errspkg.StoppedError{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	d.watcherDone = make(chan struct{})
	d.started = true

	go func() {
		defer close(d.watcherDone)
		d.watchState(ctx)
	}()
	go d.runWorker(ctx)

	d.logger.Info("Dispatcher started", loggingpkg.LogFields{
		"poll_interval":      d.conf.PollInterval,
		"link_poll_interval": d.conf.LinkPollInterval,
	})
	return nil
}

// runWorker keeps a panic escaping the loop from taking the process down.
// There is no caller to hand it to, so it goes to diagnostics.
func (d *Dispatcher) runWorker(ctx context.Context) {
	defer close(d.done)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("dispatcher loop panicked: %v", r)
			d.reportContext("worker", diagnostics.TagWorkerPanic, "uncaught failure in the dispatcher loop", err)
			d.logger.Error("Dispatcher loop panicked", err, nil)
			if current := d.inflight.Load(); current != nil {
				current.reply.Deliver(Result{Err: errspkg.WrapInternal(err)})
			}
			d.queue.shutdownWith(&errspkg.StoppedError{})
		}
	}()
	d.run(ctx)
}

// Done is closed once the worker has exited. It is nil before Start.
func (d *Dispatcher) Done() <-chan struct{} {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()
	return d.done
}

// Join stops accepting requests, releases queued callers with a
// StoppedError and waits for the worker to exit. If the worker is still
// busy after JoinTimeout its context is cancelled, which every polling
// point observes; if it still has not exited after ForceGrace it is
// abandoned, the in-flight caller is released and ErrForcedTermination is
// returned. Join always returns.
func (d *Dispatcher) Join() error {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()

	if d.joined {
		return d.joinErr
	}
	d.joined = true

	released := d.queue.shutdownWith(&errspkg.StoppedError{})
	if !d.started {
		return nil
	}
	d.logger.Debug("Joining dispatcher", loggingpkg.LogFields{"released": released})

	if waitFor(d.done, d.conf.JoinTimeout) {
		d.cancel()
		<-d.watcherDone
		d.logger.Info("Dispatcher stopped", nil)
		return nil
	}

	d.logger.Info("Dispatcher did not exit in time, cancelling the in-flight request", loggingpkg.LogFields{
		"join_timeout": d.conf.JoinTimeout,
	})
	d.cancel()
	if waitFor(d.done, d.conf.ForceGrace) {
		<-d.watcherDone
		return nil
	}

	if current := d.inflight.Load(); current != nil {
		current.reply.Deliver(Result{Err: &errspkg.StoppedError{Message: "dispatcher was terminated while processing the request"}})
		d.report(current, diagnostics.TagJoinForced, "worker abandoned during join", errspkg.ErrForcedTermination)
	} else {
		d.reportContext("worker", diagnostics.TagJoinForced, "worker abandoned during join", errspkg.ErrForcedTermination)
	}
	d.logger.Error("Dispatcher worker abandoned", errspkg.ErrForcedTermination, nil)
	d.joinErr = errspkg.ErrForcedTermination
	return d.joinErr
}

func waitFor(done <-chan struct{}, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
