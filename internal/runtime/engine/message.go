package engine

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/cmdflow/internal/runtime/ids"
	"github.com/drblury/cmdflow/internal/runtime/jsoncodec"
	"github.com/drblury/cmdflow/internal/runtime/metadata"
)

const (
	ContentTypeJSON  = "application/json"
	ContentTypeProto = "application/protobuf+json"
)

// Message is a payload plus its application properties.
type Message struct {
	ID         string
	Topic      string
	Payload    []byte
	Properties metadata.Metadata
	// TTL is how long the server may hold the message before discarding it.
	TTL time.Duration
}

// NewMessage builds a message for topic with a fresh identifier.
func NewMessage(topic string, payload []byte, props metadata.Metadata) *Message {
	return &Message{
		ID:         ids.NewMessageID(),
		Topic:      topic,
		Payload:    payload,
		Properties: props.Clone(),
	}
}

// NewJSONMessage encodes v as the message body.
func NewJSONMessage(topic string, v any, props metadata.Metadata) (*Message, error) {
	body, err := jsoncodec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json payload: %w", err)
	}
	msg := NewMessage(topic, body, props)
	msg.Properties = msg.Properties.With(metadata.KeyContentType, ContentTypeJSON)
	return msg, nil
}

// NewProtoMessage encodes pb with protojson as the message body.
func NewProtoMessage(topic string, pb proto.Message, props metadata.Metadata) (*Message, error) {
	if pb == nil {
		return nil, fmt.Errorf("encode proto payload: message is nil")
	}
	body, err := protojson.Marshal(pb)
	if err != nil {
		return nil, fmt.Errorf("encode proto payload: %w", err)
	}
	msg := NewMessage(topic, body, props)
	msg.Properties = msg.Properties.With(metadata.KeyContentType, ContentTypeProto)
	return msg, nil
}

// ContentType returns the content type recorded when the message was built.
func (m *Message) ContentType() string {
	if m == nil {
		return ""
	}
	return m.Properties.Get(metadata.KeyContentType)
}

// Delivery is a received message together with where and when it arrived.
type Delivery struct {
	Message     *Message
	Destination Destination
	SessionID   string
	ReceivedAt  time.Time

	confirm func(context.Context) error
}

// NewDelivery wraps msg. confirm is nil when the message was already
// acknowledged by the receive path.
func NewDelivery(msg *Message, dest Destination, sessionID string, confirm func(context.Context) error) *Delivery {
	return &Delivery{
		Message:     msg,
		Destination: dest,
		SessionID:   sessionID,
		ReceivedAt:  time.Now(),
		confirm:     confirm,
	}
}

// NeedsConfirm reports whether the caller must call Confirm.
func (d *Delivery) NeedsConfirm() bool {
	return d != nil && d.confirm != nil
}

// Confirm settles an at-least-once delivery that was not auto-confirmed.
// It is a no-op otherwise.
func (d *Delivery) Confirm(ctx context.Context) error {
	if d == nil || d.confirm == nil {
		return nil
	}
	return d.confirm(ctx)
}

// DecodeJSON decodes the body into v.
func (d *Delivery) DecodeJSON(v any) error {
	if d == nil || d.Message == nil {
		return fmt.Errorf("decode json payload: no message")
	}
	if err := jsoncodec.Unmarshal(d.Message.Payload, v); err != nil {
		return fmt.Errorf("decode json payload: %w", err)
	}
	return nil
}

// DecodeProto decodes a protojson body into pb.
func (d *Delivery) DecodeProto(pb proto.Message) error {
	if d == nil || d.Message == nil {
		return fmt.Errorf("decode proto payload: no message")
	}
	if err := protojson.Unmarshal(d.Message.Payload, pb); err != nil {
		return fmt.Errorf("decode proto payload: %w", err)
	}
	return nil
}
