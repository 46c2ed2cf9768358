// Package nats provides the NATS Core transport.
package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/cmdflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// Connection defaults. The client parks requests while disconnected, so
// the connection retries forever rather than giving up.
const (
	ClientName    = "cmdflow"
	ReconnectWait = time.Second
	CloseTimeout  = 5 * time.Second
)

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg wmnats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return wmnats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg wmnats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return wmnats.NewSubscriber(cfg, logger)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Build creates a NATS Core publisher and subscriber. JetStream is
// disabled; subscribers joining the configured queue group share the
// topic's messages.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return transport.Transport{}, errors.New("nats URL is required")
	}
	marshaler := &wmnats.NATSMarshaler{}
	options := connectionOptions(logger)

	publisher, err := PublisherFactory(
		wmnats.PublisherConfig{
			URL:         url,
			NatsOptions: options,
			Marshaler:   marshaler,
			JetStream:   wmnats.JetStreamConfig{Disabled: true},
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("publisher: %w", err)
	}

	subscriber, err := SubscriberFactory(
		wmnats.SubscriberConfig{
			URL:              url,
			NatsOptions:      options,
			Unmarshaler:      marshaler,
			QueueGroupPrefix: cfg.GetNATSQueueGroup(),
			SubscribersCount: 1,
			CloseTimeout:     CloseTimeout,
			JetStream:        wmnats.JetStreamConfig{Disabled: true},
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, fmt.Errorf("subscriber: %w", err)
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}

func connectionOptions(logger watermill.LoggerAdapter) []nc.Option {
	return []nc.Option{
		nc.Name(ClientName),
		nc.RetryOnFailedConnect(true),
		nc.MaxReconnects(-1),
		nc.ReconnectWait(ReconnectWait),
		nc.DisconnectErrHandler(func(_ *nc.Conn, err error) {
			logger.Error("NATS connection lost", err, nil)
		}),
		nc.ReconnectHandler(func(conn *nc.Conn) {
			logger.Info("NATS connection restored", watermill.LogFields{"url": conn.ConnectedUrlRedacted()})
		}),
	}
}
