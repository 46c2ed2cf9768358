// Package http provides a webhook-style transport: messages are POSTed to
// a peer, and received on an embedded HTTP server.
package http

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/cmdflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "http"

var (
	errNoPublisherURL    = errors.New("http transport has no publisher URL")
	errNoServerAddress   = errors.New("http transport has no server address")
	errTransportRequired = errors.New("http publisher URL or server address is required")
)

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, config, logger)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPCapabilities)
}

// Build creates the publisher when a publisher URL is configured and the
// subscriber when a server address is. The missing half fails every call.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	serverAddr := cfg.GetHTTPServerAddress()
	publisherURL := cfg.GetHTTPPublisherURL()
	if serverAddr == "" && publisherURL == "" {
		return transport.Transport{}, errTransportRequired
	}

	var (
		publisher  message.Publisher  = unavailable{err: errNoPublisherURL}
		subscriber message.Subscriber = unavailable{err: errNoServerAddress}
		err        error
	)

	if publisherURL != "" {
		publisher, err = PublisherFactory(
			http.PublisherConfig{
				MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
					return http.DefaultMarshalMessageFunc(topicURL(publisherURL, topic), msg)
				},
			},
			logger,
		)
		if err != nil {
			return transport.Transport{}, fmt.Errorf("publisher: %w", err)
		}
	}

	if serverAddr != "" {
		subscriber, err = SubscriberFactory(
			serverAddr,
			http.SubscriberConfig{
				UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
			},
			logger,
		)
		if err != nil {
			_ = publisher.Close()
			return transport.Transport{}, fmt.Errorf("subscriber: %w", err)
		}
		if s, ok := subscriber.(*http.Subscriber); ok {
			go func() {
				if err := s.StartHTTPServer(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
					logger.Error("HTTP subscriber server stopped", err, watermill.LogFields{"addr": serverAddr})
				}
			}()
		}
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}

// topicURL joins the base URL and topic with exactly one slash.
func topicURL(base, topic string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(topic, "/")
}

// unavailable stands in for the half of the transport that is not configured.
type unavailable struct {
	err error
}

func (u unavailable) Publish(string, ...*message.Message) error { return u.err }

func (u unavailable) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	return nil, u.err
}

func (unavailable) Close() error { return nil }
