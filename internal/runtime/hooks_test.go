package runtime

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	loggingpkg "github.com/drblury/cmdflow/internal/runtime/logging"
)

func TestRequestHooksMergeOrder(t *testing.T) {
	var calls []string
	first := RequestHooks{
		OnRequestStart: func(RequestContext) { calls = append(calls, "first-start") },
		OnRequestError: func(RequestContext, error) { calls = append(calls, "first-error") },
	}
	second := RequestHooks{
		OnRequestStart: func(RequestContext) { calls = append(calls, "second-start") },
		OnRequestDone:  func(RequestContext) { calls = append(calls, "second-done") },
		OnRetry:        func(RequestContext) { calls = append(calls, "second-retry") },
	}

	merged := first.Merge(second)
	merged.start(RequestContext{})
	merged.retry(RequestContext{})
	merged.finish(RequestContext{}, nil)
	merged.finish(RequestContext{}, errors.New("boom"))

	assert.Equal(t, []string{"first-start", "second-start", "second-retry", "second-done", "first-error"}, calls)
}

func TestRequestHooksZeroValueIsSafe(t *testing.T) {
	var hooks RequestHooks
	assert.NotPanics(t, func() {
		hooks.start(RequestContext{})
		hooks.retry(RequestContext{})
		hooks.finish(RequestContext{}, nil)
		hooks.finish(RequestContext{}, errors.New("boom"))
	})
}

func TestLoggingHooksDoNotPanic(t *testing.T) {
	hooks := LoggingHooks(loggingpkg.NopLogger())
	ctx := RequestContext{RequestID: "req-1", Operation: "send", Topic: "orders", Attempt: 2, Duration: time.Millisecond}
	assert.NotPanics(t, func() {
		hooks.start(ctx)
		hooks.retry(ctx)
		hooks.finish(ctx, nil)
		hooks.finish(ctx, errors.New("boom"))
	})
}

func TestMetricsHooksRecordOutcomes(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	require.NoError(t, m.Register())

	hooks := MetricsHooks(m)
	ctx := RequestContext{Operation: "send", Duration: 5 * time.Millisecond}
	hooks.finish(ctx, nil)
	hooks.retry(ctx)
	hooks.finish(ctx, errTimeoutForTest())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("send", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("send", OutcomeTimeout)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retriesTotal.WithLabelValues("send")))

	snap := m.Snapshot()
	require.Contains(t, snap.Operations, "send")
	assert.Equal(t, uint64(2), snap.TotalRequests)
	assert.Equal(t, uint64(1), snap.TotalRetries)
	assert.Equal(t, uint64(1), snap.Operations["send"].Failed)
	assert.Equal(t, OutcomeTimeout, snap.Operations["send"].LastOutcome)
}

func TestMetricsHooksWithNilMetrics(t *testing.T) {
	hooks := MetricsHooks(nil)
	assert.NotPanics(t, func() {
		hooks.finish(RequestContext{Operation: "send"}, nil)
		hooks.retry(RequestContext{Operation: "send"})
	})
}
