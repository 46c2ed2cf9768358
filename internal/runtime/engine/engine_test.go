package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/drblury/cmdflow/internal/runtime/metadata"
)

func TestTrackerStatusString(t *testing.T) {
	cases := map[TrackerStatus]string{
		StatusNone:        "none",
		StatusPending:     "pending",
		StatusAccepted:    "accepted",
		StatusRejected:    "rejected",
		StatusReleased:    "released",
		StatusModified:    "modified",
		StatusAborted:     "aborted",
		StatusSettled:     "settled",
		TrackerStatus(42): "status(42)",
	}
	for status, want := range cases {
		assert.Equal(t, want, status.String())
	}
}

func TestQoSString(t *testing.T) {
	assert.Equal(t, "at-most-once", AtMostOnce.String())
	assert.Equal(t, "at-least-once", AtLeastOnce.String())
	assert.Equal(t, "qos(7)", QoS(7).String())
}

func TestDestinationKey(t *testing.T) {
	assert.Equal(t, "private:orders", Destination{Topic: "orders"}.Key())
	assert.Equal(t, "share:workers:orders", Destination{Topic: "orders", Share: "workers"}.Key())
	assert.NotEqual(t, Destination{Topic: "a"}.Key(), Destination{Topic: "a", Share: "s"}.Key())
}

type order struct {
	ID    string `json:"id"`
	Total int    `json:"total"`
}

func TestJSONMessageRoundTrip(t *testing.T) {
	msg, err := NewJSONMessage("orders", order{ID: "o-1", Total: 42}, metadata.New("tenant", "acme"))
	require.NoError(t, err)
	assert.Equal(t, "orders", msg.Topic)
	assert.Equal(t, ContentTypeJSON, msg.ContentType())
	assert.Equal(t, "acme", msg.Properties.Get("tenant"))
	assert.NotEmpty(t, msg.ID)

	delivery := NewDelivery(msg, Destination{Topic: "orders"}, "sess_1", nil)
	var decoded order
	require.NoError(t, delivery.DecodeJSON(&decoded))
	assert.Equal(t, order{ID: "o-1", Total: 42}, decoded)
}

func TestProtoMessageRoundTrip(t *testing.T) {
	msg, err := NewProtoMessage("greetings", wrapperspb.String("hello"), nil)
	require.NoError(t, err)
	assert.Equal(t, ContentTypeProto, msg.ContentType())

	var decoded wrapperspb.StringValue
	require.NoError(t, NewDelivery(msg, Destination{}, "", nil).DecodeProto(&decoded))
	assert.Equal(t, "hello", decoded.GetValue())

	_, err = NewProtoMessage("greetings", nil, nil)
	assert.Error(t, err)
}

func TestDecodeWithoutMessage(t *testing.T) {
	var d *Delivery
	assert.Error(t, d.DecodeJSON(&order{}))
	assert.Error(t, (&Delivery{}).DecodeProto(&wrapperspb.StringValue{}))
}

func TestDeliveryConfirm(t *testing.T) {
	plain := NewDelivery(&Message{}, Destination{}, "", nil)
	assert.False(t, plain.NeedsConfirm())
	assert.NoError(t, plain.Confirm(context.Background()))

	calls := 0
	confirmable := NewDelivery(&Message{}, Destination{}, "", func(context.Context) error {
		calls++
		return nil
	})
	assert.True(t, confirmable.NeedsConfirm())
	require.NoError(t, confirmable.Confirm(context.Background()))
	assert.Equal(t, 1, calls)
	assert.WithinDuration(t, time.Now(), confirmable.ReceivedAt, time.Second)
}
