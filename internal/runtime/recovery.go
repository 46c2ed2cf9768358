package runtime

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/drblury/cmdflow/internal/runtime/engine"
	loggingpkg "github.com/drblury/cmdflow/internal/runtime/logging"
	"github.com/drblury/cmdflow/internal/runtime/state"
)

// recoverer moves a client-owned connection back to Started after a request
// parked it in Retrying. Watermill transports reconnect on their own, so
// recovery only asks the engine to re-establish broken links, backing off
// while that fails.
type recoverer struct {
	cell        *state.Cell
	engine      engine.Reconnector
	logger      loggingpkg.ServiceLogger
	backOff     backoff.BackOff
	maxInterval time.Duration

	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}

	// lastRecovered is only touched by run.
	lastRecovered time.Time
}

func newRecoverer(cell *state.Cell, eng engine.Reconnector, log loggingpkg.ServiceLogger, initial, maxInterval time.Duration) *recoverer {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxInterval
	b.MaxElapsedTime = 0
	b.Reset()

	return &recoverer{
		cell:        cell,
		engine:      eng,
		logger:      log.With(loggingpkg.LogFields{"component": "recovery"}),
		backOff:     b,
		maxInterval: maxInterval,
		kick:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// start watches the cell for Retrying and runs recovery until stop is called
// or the cell reaches Stopped.
func (r *recoverer) start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.cell.OnChange(func(_, to state.State) {
		if to != state.Retrying {
			return
		}
		select {
		case r.kick <- struct{}{}:
		default:
		}
	})
	go r.run(ctx)
}

func (r *recoverer) stop() error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	<-r.done
	return nil
}

func (r *recoverer) run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.cell.Done():
			return
		case <-r.kick:
		}
		r.recover(ctx)
	}
}

func (r *recoverer) recover(ctx context.Context) {
	// a connection that keeps failing right after recovering keeps backing off
	if time.Since(r.lastRecovered) > r.maxInterval {
		r.backOff.Reset()
	}

	for attempt := 1; ; attempt++ {
		wait := r.backOff.NextBackOff()
		if wait == backoff.Stop {
			wait = r.maxInterval
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-r.cell.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if r.cell.State() != state.Retrying {
			return
		}

		if err := r.engine.Reconnect(ctx); err != nil {
			r.logger.Error("Reconnect failed", err, loggingpkg.LogFields{"attempt": attempt})
			continue
		}
		r.lastRecovered = time.Now()
		r.logger.Info("Connection recovered", loggingpkg.LogFields{"attempt": attempt})
		r.cell.ChangeState(state.Started)
		return
	}
}
