package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	errspkg "github.com/drblury/cmdflow/internal/runtime/errors"
	"github.com/drblury/cmdflow/internal/runtime/state"
)

// Request outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeTimeout  = "timeout"
	OutcomeStopped  = "stopped"
	OutcomeError    = "error"
)

// Metrics tracks dispatcher statistics. All methods are safe on a nil
// receiver so the dispatcher can run without metrics.
type Metrics struct {
	mu sync.RWMutex

	operations map[string]*OperationMetrics

	requestsTotal   *prometheus.CounterVec
	retriesTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	queueDepth      prometheus.Gauge
	connectionState *prometheus.GaugeVec

	registerer prometheus.Registerer
	registered bool
}

// OperationMetrics holds counters for one operation kind.
type OperationMetrics struct {
	Requests      uint64    `json:"requests"`
	Succeeded     uint64    `json:"succeeded"`
	Failed        uint64    `json:"failed"`
	Retries       uint64    `json:"retries"`
	AvgDurationMs float64   `json:"avg_duration_ms"`
	LastOutcome   string    `json:"last_outcome"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// MetricsSnapshot is a point-in-time view of the dispatcher counters.
type MetricsSnapshot struct {
	TotalRequests uint64                       `json:"total_requests"`
	TotalRetries  uint64                       `json:"total_retries"`
	Operations    map[string]*OperationMetrics `json:"operations"`
	CollectedAt   time.Time                    `json:"collected_at"`
}

func newDispatcherCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cmdflow",
			Subsystem: "dispatcher",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics creates the collectors. Call Register to expose them.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		operations:    make(map[string]*OperationMetrics),
		registerer:    registerer,
		requestsTotal: newDispatcherCounterVec("requests_total", "Requests processed by the dispatcher, by operation and outcome", []string{"operation", "outcome"}),
		retriesTotal:  newDispatcherCounterVec("retries_total", "In-place retries caused by connection failures", []string{"operation"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cmdflow",
			Subsystem: "dispatcher",
			Name:      "request_duration_seconds",
			Help:      "Time from dequeue to reply, including retries",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"operation"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cmdflow",
			Subsystem: "dispatcher",
			Name:      "queue_depth",
			Help:      "Requests waiting to be taken by the worker",
		}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cmdflow",
			Subsystem: "dispatcher",
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise",
		}, []string{"state"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	var err error
	if m.requestsTotal, err = adopt(m.registerer, m.requestsTotal); err != nil {
		return err
	}
	if m.retriesTotal, err = adopt(m.registerer, m.retriesTotal); err != nil {
		return err
	}
	if m.requestDuration, err = adopt(m.registerer, m.requestDuration); err != nil {
		return err
	}
	if m.queueDepth, err = adopt(m.registerer, m.queueDepth); err != nil {
		return err
	}
	if m.connectionState, err = adopt(m.registerer, m.connectionState); err != nil {
		return err
	}

	m.registered = true
	return nil
}

// adopt registers c, returning the already registered collector instead when
// another dispatcher registered the same metric first.
func adopt[C prometheus.Collector](registerer prometheus.Registerer, c C) (C, error) {
	err := registerer.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if !errors.As(err, &already) {
		return c, err
	}
	existing, ok := already.ExistingCollector.(C)
	if !ok {
		return c, err
	}
	return existing, nil
}

// RecordRequest records a finished request.
func (m *Metrics) RecordRequest(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	op := m.getOrCreateOperation(operation)
	op.Requests++
	if outcome == OutcomeSuccess {
		op.Succeeded++
	} else {
		op.Failed++
	}
	ms := float64(duration) / float64(time.Millisecond)
	op.AvgDurationMs = ((op.AvgDurationMs * float64(op.Requests-1)) + ms) / float64(op.Requests)
	op.LastOutcome = outcome
	op.LastUpdatedAt = time.Now()

	m.requestsTotal.WithLabelValues(operation, outcome).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRetry records an in-place retry.
func (m *Metrics) RecordRetry(operation string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.getOrCreateOperation(operation).Retries++
	m.retriesTotal.WithLabelValues(operation).Inc()
}

// SetQueueDepth updates the queue depth gauge.
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// SetConnectionState marks current as the active state.
func (m *Metrics) SetConnectionState(current state.State) {
	if m == nil {
		return
	}
	for _, st := range []state.State{state.Starting, state.Started, state.Retrying, state.Stopped} {
		value := 0.0
		if st == current {
			value = 1
		}
		m.connectionState.WithLabelValues(st.String()).Set(value)
	}
}

// Snapshot returns a copy of the per-operation counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snapshot := MetricsSnapshot{
		Operations:  make(map[string]*OperationMetrics),
		CollectedAt: time.Now(),
	}
	if m == nil {
		return snapshot
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, op := range m.operations {
		opCopy := *op
		snapshot.Operations[name] = &opCopy
		snapshot.TotalRequests += op.Requests
		snapshot.TotalRetries += op.Retries
	}
	return snapshot
}

func (m *Metrics) getOrCreateOperation(name string) *OperationMetrics {
	if op, ok := m.operations[name]; ok {
		return op
	}
	op := &OperationMetrics{}
	m.operations[name] = op
	return op
}

// Reset clears all metrics (useful for testing).
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.operations = make(map[string]*OperationMetrics)
	m.requestsTotal.Reset()
	m.retriesTotal.Reset()
	m.requestDuration.Reset()
	m.connectionState.Reset()
	m.queueDepth.Set(0)
}

// outcomeOf maps a result onto an outcome label.
func outcomeOf(res Result) string {
	var (
		validation *errspkg.ValidationError
	)
	switch {
	case res.Err == nil:
		return OutcomeSuccess
	case errors.As(res.Err, &validation):
		return OutcomeRejected
	case errors.Is(res.Err, errspkg.ErrTimeout):
		return OutcomeTimeout
	case errors.Is(res.Err, errspkg.ErrStopped):
		return OutcomeStopped
	default:
		return OutcomeError
	}
}
