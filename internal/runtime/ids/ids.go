package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	requestPrefix = "req_"
	recordPrefix  = "ffdc_"
	sessionPrefix = "sess_"
	messagePrefix = "msg_"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func next() ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// NewRequestID returns a time-sortable identifier for an enqueued request.
func NewRequestID() string {
	return requestPrefix + next().String()
}

// NewRecordID returns an identifier for a diagnostics record.
func NewRecordID() string {
	return recordPrefix + next().String()
}

// NewSessionID returns an identifier for a dispatcher session.
func NewSessionID() string {
	return sessionPrefix + next().String()
}

// NewMessageID returns an identifier for an outbound message.
func NewMessageID() string {
	return messagePrefix + next().String()
}

// Timestamp extracts the creation time encoded in an identifier produced by
// this package.
func Timestamp(id string) (time.Time, bool) {
	idx := strings.IndexByte(id, '_')
	parsed, err := ulid.Parse(id[idx+1:])
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()), true
}
