package runtime

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/cmdflow/internal/runtime/config"
	"github.com/drblury/cmdflow/internal/runtime/diagnostics"
	"github.com/drblury/cmdflow/internal/runtime/engine"
	errspkg "github.com/drblury/cmdflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/cmdflow/internal/runtime/logging"
	"github.com/drblury/cmdflow/internal/runtime/state"
	transportpkg "github.com/drblury/cmdflow/internal/runtime/transport"
)

// ClientDependencies holds the optional collaborators of NewClientFromConfig.
// Leave fields nil to use the defaults.
type ClientDependencies struct {
	TransportFactory transportpkg.Factory
	// Registerer receives the dispatcher and transport metrics when
	// MetricsEnabled is set. Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// Reporter receives diagnostics records in addition to the log.
	Reporter diagnostics.Reporter
	Hooks    RequestHooks
	Tracer   trace.Tracer
}

// NewClientFromConfig builds the transport selected by conf, runs the
// reference engine on it and starts a dispatcher in front of it.
func NewClientFromConfig(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ClientDependencies) (*Client, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	resolved := conf.WithDefaults()
	wmLogger := loggingpkg.NewWatermillAdapter(log)

	log.Info("Creating cmdflow client", loggingpkg.LogFields{
		"transport": resolved.Transport,
		"config":    resolved,
	})

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	tr, err := factory.Build(ctx, &resolved, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}

	// closers is kept in Client.Close order; every failed step runs it.
	closers := []func() error{tr.Close}
	abort := func(err error) (*Client, error) {
		for _, closeFn := range closers {
			_ = closeFn()
		}
		return nil, err
	}

	var (
		pub         message.Publisher  = tr.Publisher
		sub         message.Subscriber = tr.Subscriber
		dispMetrics *Metrics
		registerer  prometheus.Registerer
	)
	if resolved.MetricsEnabled {
		registerer = deps.Registerer
		if registerer == nil {
			registerer = prometheus.DefaultRegisterer
		}
		builder := metrics.NewPrometheusMetricsBuilder(registerer, "cmdflow", resolved.Transport)
		if pub, err = builder.DecoratePublisher(pub); err != nil {
			return abort(fmt.Errorf("decorate publisher: %w", err))
		}
		if sub, err = builder.DecorateSubscriber(sub); err != nil {
			return abort(fmt.Errorf("decorate subscriber: %w", err))
		}
		dispMetrics = NewMetrics(registerer)
		if err := dispMetrics.Register(); err != nil {
			return abort(fmt.Errorf("register metrics: %w", err))
		}
	}

	eng, err := engine.NewWatermillEngine(pub, sub, wmLogger)
	if err != nil {
		return abort(err)
	}
	// the engine closes the transport pair from here on
	closers = []func() error{eng.Close}

	logReporter, err := diagnostics.NewLogReporter(log, registerer)
	if err != nil {
		return abort(fmt.Errorf("diagnostics: %w", err))
	}
	reporters := diagnostics.MultiReporter{logReporter}
	if resolved.DiagnosticsTopic != "" {
		publisherReporter := diagnostics.NewPublisherReporter(tr.Publisher, resolved.DiagnosticsTopic, resolved.DiagnosticsQueue, log)
		reporters = append(reporters, publisherReporter)
		closers = append([]func() error{publisherReporter.Close}, closers...)
	}
	if deps.Reporter != nil {
		reporters = append(reporters, deps.Reporter)
	}

	cell := state.NewCell(state.Started)
	hooks := LoggingHooks(log).Merge(MetricsHooks(dispMetrics)).Merge(deps.Hooks)

	d, err := NewDispatcher(&resolved, log, DispatcherDependencies{
		Engine:   eng,
		State:    cell,
		Reporter: reporters,
		Metrics:  dispMetrics,
		Hooks:    hooks,
		Tracer:   deps.Tracer,
	})
	if err != nil {
		return abort(err)
	}

	rec := newRecoverer(cell, eng, log, resolved.RecoveryInterval, resolved.RecoveryMaxInterval)
	rec.start()
	closers = append([]func() error{rec.stop}, closers...)

	if err := d.Start(); err != nil {
		return abort(err)
	}

	client := NewClient(d, closers...)
	client.owned = cell
	if caps, ok := transportpkg.CapabilitiesOf(resolved.Transport); ok {
		client.caps = &caps
	}
	return client, nil
}
