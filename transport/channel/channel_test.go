package channel

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/cmdflow/transport"
)

func TestRegistered(t *testing.T) {
	assert.True(t, transport.DefaultRegistry.Has(TransportName))
	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, transport.ChannelCapabilities, caps)
	assert.Equal(t, caps, Capabilities())
	assert.True(t, caps.SupportsReliableDelivery())
	assert.False(t, caps.SupportsSharing)
}

func TestClientsShareOneBroker(t *testing.T) {
	first, err := Build(context.Background(), nil, watermill.NopLogger{})
	require.NoError(t, err)
	second, err := Build(context.Background(), nil, watermill.NopLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages, err := second.Subscriber.Subscribe(ctx, "orders")
	require.NoError(t, err)

	require.NoError(t, first.Publisher.Publish("orders", message.NewMessage(watermill.NewUUID(), []byte("hello"))))

	select {
	case msg := <-messages:
		assert.Equal(t, []byte("hello"), []byte(msg.Payload))
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("message not delivered across handles")
	}

	// closing one handle leaves the broker usable for the other
	require.NoError(t, first.Publisher.Close())
	require.NoError(t, first.Subscriber.Close())
	require.NoError(t, second.Publisher.Publish("orders", message.NewMessage(watermill.NewUUID(), []byte("again"))))

	require.NoError(t, second.Publisher.Close())
	broker.mu.Lock()
	defer broker.mu.Unlock()
	assert.Zero(t, broker.refs)
	assert.Nil(t, broker.pub)
}

func TestFactoryOverride(t *testing.T) {
	original := Factory
	defer func() { Factory = original }()

	var gotCfg gochannel.Config
	Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
		gotCfg = cfg
		return original(cfg, logger)
	}

	tr, err := Build(context.Background(), nil, watermill.NopLogger{})
	require.NoError(t, err)
	defer tr.Publisher.Close()

	assert.Equal(t, int64(64), gotCfg.OutputChannelBuffer)
}
