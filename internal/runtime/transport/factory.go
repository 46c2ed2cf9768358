// Package transport builds the broker publisher/subscriber pair the
// reference engine runs on.
package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/cmdflow/internal/runtime/config"
	registry "github.com/drblury/cmdflow/transport"

	// Register every built-in transport.
	_ "github.com/drblury/cmdflow/transport/transports"
)

// Transport combines a publisher and subscriber pair produced by a factory.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes the pair.
func (t Transport) Close() error {
	return registry.Transport{Publisher: t.Publisher, Subscriber: t.Subscriber}.Close()
}

// Factory abstracts how cmdflow initialises broker transports.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)

func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	return f(ctx, conf, logger)
}

// DefaultFactory returns the factory backed by the transport registry.
func DefaultFactory() Factory {
	return defaultFactory{}
}

type defaultFactory struct{}

func (defaultFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, fmt.Errorf("config is required")
	}
	if conf.Transport == "" {
		return Transport{}, fmt.Errorf("transport is required (registered: %v)", registry.DefaultRegistry.Names())
	}

	t, err := registry.Build(ctx, conf, logger)
	if err != nil {
		return Transport{}, err
	}

	return Transport{
		Publisher:  t.Publisher,
		Subscriber: t.Subscriber,
	}, nil
}

// Capabilities describes what a registered transport supports.
type Capabilities = registry.Capabilities

// CapabilitiesOf returns the capabilities registered for name. ok is false
// for transports registered without capabilities or not registered at all.
func CapabilitiesOf(name string) (caps Capabilities, ok bool) {
	return registry.DefaultRegistry.LookupCapabilities(name)
}

// Names lists the registered transports.
func Names() []string {
	return registry.DefaultRegistry.Names()
}
