package diagnostics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/cmdflow/internal/runtime/logging"
)

// LogReporter writes records to the service log and counts them by tag.
type LogReporter struct {
	logger  logging.ServiceLogger
	records *prometheus.CounterVec
}

// NewLogReporter registers the record counter with registerer, reusing an
// existing collector when one is already registered. A nil registerer skips
// registration.
func NewLogReporter(logger logging.ServiceLogger, registerer prometheus.Registerer) (*LogReporter, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	records := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cmdflow",
		Subsystem: "diagnostics",
		Name:      "records_total",
		Help:      "Number of first-failure records captured.",
	}, []string{"tag", "source"})

	if registerer != nil {
		if err := registerer.Register(records); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return nil, err
			}
			existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				return nil, err
			}
			records = existing
		}
	}

	return &LogReporter{
		logger:  logger.With(logging.LogFields{"component": "diagnostics"}),
		records: records,
	}, nil
}

func (r *LogReporter) Report(rec Record) {
	rec = stamp(rec)
	r.records.WithLabelValues(rec.Tag, rec.Source).Inc()
	r.logger.Error("First failure data capture", rec.Err, logging.LogFields{
		"ffdc_id":     rec.ID,
		"tag":         rec.Tag,
		"source":      rec.Source,
		"context":     rec.Context,
		"description": rec.Description,
	})
}
