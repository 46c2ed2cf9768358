package diagnostics

import (
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/cmdflow/internal/runtime/jsoncodec"
	"github.com/drblury/cmdflow/internal/runtime/logging"
	"github.com/drblury/cmdflow/internal/runtime/metadata"
)

// PublisherReporter publishes records as JSON to a broker topic. Records are
// buffered and sent from a background goroutine; when the buffer is full the
// record is dropped rather than blocking the reporter.
type PublisherReporter struct {
	publisher message.Publisher
	topic     string
	logger    logging.ServiceLogger

	mu      sync.RWMutex
	closed  bool
	queue   chan Record
	done    chan struct{}
	dropped atomic.Uint64
}

// NewPublisherReporter starts the background publisher.
func NewPublisherReporter(pub message.Publisher, topic string, size int, logger logging.ServiceLogger) *PublisherReporter {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	r := &PublisherReporter{
		publisher: pub,
		topic:     topic,
		logger:    logger.With(logging.LogFields{"component": "diagnostics", "topic": topic}),
		queue:     make(chan Record, size),
		done:      make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *PublisherReporter) Report(rec Record) {
	rec = stamp(rec)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.dropped.Add(1)
		r.logger.Debug("Diagnostics queue full, dropping record", logging.LogFields{"ffdc_id": rec.ID})
	}
}

// Dropped returns how many records were discarded.
func (r *PublisherReporter) Dropped() uint64 {
	return r.dropped.Load()
}

// Close stops accepting records and waits for queued ones to be published.
func (r *PublisherReporter) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
	return nil
}

func (r *PublisherReporter) run() {
	defer close(r.done)
	for rec := range r.queue {
		body, err := jsoncodec.Marshal(rec)
		if err != nil {
			r.logger.Error("Could not encode diagnostics record", err, logging.LogFields{"ffdc_id": rec.ID})
			continue
		}
		msg := message.NewMessage(rec.ID, body)
		msg.Metadata.Set(metadata.KeyContentType, "application/json")
		if err := r.publisher.Publish(r.topic, msg); err != nil {
			r.logger.Error("Could not publish diagnostics record", err, logging.LogFields{"ffdc_id": rec.ID})
		}
	}
}
