// Package metadata holds the application properties carried alongside a
// message and the reserved keys the engine uses to move delivery settings
// through a broker.
package metadata

import (
	"strconv"
	"time"
)

// Reserved property keys. Brokers only see string headers, so delivery
// settings are folded into the property map on the way out and lifted back
// out on the way in.
const (
	KeyMessageID   = "cmdflow_message_id"
	KeyQoS         = "cmdflow_qos"
	KeyTTL         = "cmdflow_ttl_ms"
	KeyTopic       = "cmdflow_topic"
	KeyRequestID   = "cmdflow_request_id"
	KeyContentType = "cmdflow_content_type"
)

// Metadata represents the string properties of a message.
type Metadata map[string]string

func (m Metadata) copyInto(extra int) Metadata {
	cloned := make(Metadata, len(m)+extra)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy. A nil receiver yields an empty, non-nil map.
func (m Metadata) Clone() Metadata {
	return m.copyInto(0)
}

// With returns a copy containing key=value.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.copyInto(1)
	cloned[key] = value
	return cloned
}

// WithAll returns a copy containing every entry of extra, extra winning on
// conflicts.
func (m Metadata) WithAll(extra Metadata) Metadata {
	cloned := m.copyInto(len(extra))
	for k, v := range extra {
		cloned[k] = v
	}
	return cloned
}

// Get returns the value for key or "" when absent.
func (m Metadata) Get(key string) string {
	return m[key]
}

// Duration parses a millisecond property. Missing or malformed values yield
// zero.
func (m Metadata) Duration(key string) time.Duration {
	raw, ok := m[key]
	if !ok {
		return 0
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms < 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// WithDuration stores d as whole milliseconds.
func (m Metadata) WithDuration(key string, d time.Duration) Metadata {
	return m.With(key, strconv.FormatInt(d.Milliseconds(), 10))
}

// Application returns a copy without the reserved cmdflow_ keys.
func (m Metadata) Application() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		switch k {
		case KeyMessageID, KeyQoS, KeyTTL, KeyTopic, KeyRequestID, KeyContentType:
			continue
		}
		out[k] = v
	}
	return out
}

// New constructs Metadata from alternating key/value pairs. A trailing key
// without a value is ignored.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
