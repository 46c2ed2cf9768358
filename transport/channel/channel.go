// Package channel provides an in-process broker backed by watermill's Go
// channel pub/sub. Every client built in the same process talks to the same
// broker, which makes it the transport of choice for tests and local runs.
package channel

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/cmdflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// Factory creates the broker shared by the process. Override it in tests.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

var broker struct {
	mu   sync.Mutex
	pub  message.Publisher
	sub  message.Subscriber
	refs int
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build returns a handle on the process-wide broker, creating it on first
// use. The broker is closed when the last handle is closed.
func Build(_ context.Context, _ transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	broker.mu.Lock()
	defer broker.mu.Unlock()

	if broker.refs == 0 {
		broker.pub, broker.sub = Factory(gochannel.Config{
			OutputChannelBuffer: 64,
		}, logger)
	}
	broker.refs++

	h := &handle{pub: broker.pub, sub: broker.sub}
	return transport.Transport{Publisher: h, Subscriber: h}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

// handle is one client's view of the shared broker.
type handle struct {
	pub       message.Publisher
	sub       message.Subscriber
	closeOnce sync.Once
	closeErr  error
}

func (h *handle) Publish(topic string, messages ...*message.Message) error {
	return h.pub.Publish(topic, messages...)
}

func (h *handle) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return h.sub.Subscribe(ctx, topic)
}

// Close releases this handle; the broker itself closes with the last one.
func (h *handle) Close() error {
	h.closeOnce.Do(func() {
		broker.mu.Lock()
		defer broker.mu.Unlock()

		broker.refs--
		if broker.refs > 0 {
			return
		}
		h.closeErr = transport.Transport{Publisher: broker.pub, Subscriber: broker.sub}.Close()
		broker.pub, broker.sub = nil, nil
	})
	return h.closeErr
}
