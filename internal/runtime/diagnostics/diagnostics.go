// Package diagnostics captures first-failure data: unexpected errors that
// the dispatcher surfaces to a caller, or that escape the worker entirely,
// are recorded here so they can be investigated after the fact.
package diagnostics

import (
	"time"

	"github.com/drblury/cmdflow/internal/runtime/ids"
)

// Well-known record tags.
const (
	TagRequestFailure = "ffdc001"
	TagWorkerPanic    = "ffdc002"
	TagJoinForced     = "ffdc003"
)

// Record is one captured failure.
type Record struct {
	ID          string    `json:"id"`
	Context     string    `json:"context"`
	Tag         string    `json:"tag"`
	Source      string    `json:"source"`
	Description string    `json:"description"`
	Error       string    `json:"error,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`

	Err error `json:"-"`
}

// Reporter accepts records. Report must not block the caller.
type Reporter interface {
	Report(Record)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Record)

func (f ReporterFunc) Report(rec Record) { f(rec) }

// Nop discards records.
func Nop() Reporter {
	return ReporterFunc(func(Record) {})
}

// MultiReporter fans a record out to every reporter in order.
type MultiReporter []Reporter

func (m MultiReporter) Report(rec Record) {
	rec = stamp(rec)
	for _, r := range m {
		if r != nil {
			r.Report(rec)
		}
	}
}

func stamp(rec Record) Record {
	if rec.ID == "" {
		rec.ID = ids.NewRecordID()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	if rec.Error == "" && rec.Err != nil {
		rec.Error = rec.Err.Error()
	}
	return rec
}
