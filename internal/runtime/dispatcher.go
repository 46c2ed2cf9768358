package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/cmdflow/internal/runtime/config"
	"github.com/drblury/cmdflow/internal/runtime/diagnostics"
	"github.com/drblury/cmdflow/internal/runtime/engine"
	errspkg "github.com/drblury/cmdflow/internal/runtime/errors"
	"github.com/drblury/cmdflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/cmdflow/internal/runtime/logging"
	"github.com/drblury/cmdflow/internal/runtime/state"
)

// LoopPhase is the worker loop's current phase.
type LoopPhase int32

const (
	PhaseWaiting LoopPhase = iota
	PhaseDraining
	PhaseShuttingDown
)

func (p LoopPhase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseDraining:
		return "draining"
	case PhaseShuttingDown:
		return "shutting_down"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// DispatcherDependencies holds the collaborators of a Dispatcher. Engine
// and State are required; the rest fall back to no-op implementations.
type DispatcherDependencies struct {
	Engine   engine.Engine
	State    state.Machine
	Reporter diagnostics.Reporter
	Metrics  *Metrics
	Hooks    RequestHooks
	Tracer   trace.Tracer
}

// Dispatcher serialises requests from many goroutines onto a single worker
// that owns the protocol engine.
type Dispatcher struct {
	conf   configpkg.Config
	logger loggingpkg.ServiceLogger

	engine   engine.Engine
	state    state.Machine
	reporter diagnostics.Reporter
	metrics  *Metrics
	hooks    RequestHooks
	tracer   trace.Tracer
	notify   <-chan struct{}

	sessionID    string
	queue        *requestQueue
	destinations *destinationSet
	phase        atomic.Int32
	inflight     atomic.Pointer[Request]

	lifecycleMu sync.Mutex
	started     bool
	cancel      context.CancelFunc
	done        chan struct{}
	watcherDone chan struct{}
	joined      bool
	joinErr     error
}

// NewDispatcher builds a dispatcher. Call Start before pushing requests.
func NewDispatcher(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps DispatcherDependencies) (*Dispatcher, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if deps.Engine == nil {
		return nil, errspkg.ErrEngineRequired
	}
	if deps.State == nil {
		return nil, errspkg.ErrStateRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	d := &Dispatcher{
		conf:         conf.WithDefaults(),
		engine:       deps.Engine,
		state:        deps.State,
		reporter:     deps.Reporter,
		metrics:      deps.Metrics,
		hooks:        deps.Hooks,
		tracer:       deps.Tracer,
		sessionID:    ids.NewSessionID(),
		queue:        newRequestQueue(),
		destinations: newDestinationSet(),
	}
	d.logger = log.With(loggingpkg.LogFields{"component": "dispatcher", "session_id": d.sessionID})
	if d.reporter == nil {
		d.reporter = diagnostics.Nop()
	}
	if d.tracer == nil {
		d.tracer = defaultTracer()
	}
	if n, ok := deps.Engine.(engine.Notifier); ok {
		d.notify = n.Notify()
	}
	return d, nil
}

// SessionID identifies this dispatcher in deliveries and diagnostics.
func (d *Dispatcher) SessionID() string { return d.sessionID }

// Phase reports the worker loop's current phase.
func (d *Dispatcher) Phase() LoopPhase { return LoopPhase(d.phase.Load()) }

// Destinations lists the destinations with an active subscription.
func (d *Dispatcher) Destinations() []engine.Destination { return d.destinations.list() }

// QueueDepth reports how many requests are waiting to be taken.
func (d *Dispatcher) QueueDepth() int { return d.queue.depth() }

// Push enqueues req and blocks until the worker has taken it. It fails with
// a StoppedError once the dispatcher is shutting down.
func (d *Dispatcher) Push(ctx context.Context, req *Request) error {
	if req == nil || req.Operation == nil {
		return errspkg.ErrNilRequest
	}
	if req.reply == nil {
		req.reply = NewReply()
	}
	d.metrics.SetQueueDepth(d.queue.depth() + 1)
	err := d.queue.push(ctx, req)
	d.metrics.SetQueueDepth(d.queue.depth())
	return err
}

// Do pushes req and waits for its result.
func (d *Dispatcher) Do(ctx context.Context, req *Request) Result {
	if err := d.Push(ctx, req); err != nil {
		return Result{Err: err}
	}
	return req.reply.Wait(ctx)
}

// run is the worker loop.
func (d *Dispatcher) run(ctx context.Context) {
	for {
		d.phase.Store(int32(PhaseWaiting))
		req, ok := d.queue.take(func() bool {
			return ctx.Err() != nil || d.state.State() == state.Stopped
		})
		if !ok {
			break
		}
		d.phase.Store(int32(PhaseDraining))
		d.metrics.SetQueueDepth(d.queue.depth())
		d.inflight.Store(req)
		d.process(ctx, req)
		d.inflight.Store(nil)
	}

	d.phase.Store(int32(PhaseShuttingDown))
	if released := d.queue.shutdownWith(&errspkg.StoppedError{}); released > 0 {
		d.logger.Info("Released queued requests on shutdown", loggingpkg.LogFields{"released": released})
	}
	d.logger.Debug("Dispatcher loop exited", nil)
}

// watchState turns connection-state changes into queue wake-ups so an idle
// worker notices Stopped.
func (d *Dispatcher) watchState(ctx context.Context) {
	current := d.state.State()
	d.metrics.SetConnectionState(current)
	for {
		next, err := d.state.WaitForStateChange(ctx, d.conf.LinkPollInterval)
		if err != nil {
			return
		}
		if next != current {
			d.logger.Debug("Connection state changed", loggingpkg.LogFields{"from": current.String(), "to": next.String()})
			current = next
			d.metrics.SetConnectionState(current)
			d.queue.wake()
		}
		if current == state.Stopped {
			return
		}
	}
}

// report forwards an unexpected request failure to diagnostics.
func (d *Dispatcher) report(req *Request, tag, description string, err error) {
	d.reportContext(fmt.Sprintf("%s %s", req.operationName(), req.ID), tag, description, err)
}

func (d *Dispatcher) reportContext(where, tag, description string, err error) {
	d.reporter.Report(diagnostics.Record{
		Context:     where,
		Tag:         tag,
		Source:      "dispatcher",
		Description: description,
		Err:         err,
	})
}

// awaitStarted blocks while the connection is being (re)established and
// returns the first state that allows a decision.
func (d *Dispatcher) awaitStarted(ctx context.Context) (state.State, error) {
	for {
		current := d.state.State()
		if !current.Recovering() {
			return current, nil
		}
		// bounded so a change racing the State read above is not missed
		if _, err := d.state.WaitForStateChange(ctx, d.conf.LinkPollInterval); err != nil {
			return current, err
		}
	}
}

// poll re-evaluates ready every interval, or sooner when the engine signals
// progress, until it reports true. It returns false when the connection
// leaves Started first, and ctx.Err() when ctx ends first.
func (d *Dispatcher) poll(ctx context.Context, interval time.Duration, ready func() (bool, error)) (bool, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		ok, err := ready()
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if d.state.State() != state.Started {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		case <-d.notify:
		}
	}
}
