package transport

// Capabilities describes what a broker backend can do for the client.
type Capabilities struct {
	// Name is the registered transport name.
	Name string

	// SupportsAck indicates deliveries can be acknowledged individually.
	SupportsAck bool
	// SupportsNack indicates a delivery can be handed back for redelivery.
	SupportsNack bool
	// SupportsOrdering indicates messages on one topic arrive in publish order.
	SupportsOrdering bool
	// SupportsSharing indicates several clients can compete for messages on
	// a named share of a topic.
	SupportsSharing bool
	// SupportsTracing indicates metadata travels with the message, so trace
	// context survives the hop.
	SupportsTracing bool

	// MaxMessageSize is the largest payload in bytes (0 = unknown).
	MaxMessageSize int64
}

// SupportsReliableDelivery reports whether at-least-once delivery can be
// honoured: deliveries are acked and unconfirmed ones are redelivered.
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Predefined capability sets for the built-in transports.
var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsOrdering: true,
	}

	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsOrdering: true,
		SupportsSharing:  true,
		SupportsTracing:  true,
	}

	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsOrdering: true,
		SupportsSharing:  true,
		SupportsTracing:  true,
		MaxMessageSize:   1048576,
	}

	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsSharing: true,
		SupportsTracing: true,
		MaxMessageSize:  1048576,
	}

	AWSCapabilities = Capabilities{
		Name:            "aws",
		SupportsAck:     true,
		SupportsNack:    true,
		SupportsSharing: true,
		SupportsTracing: true,
		MaxMessageSize:  262144,
	}

	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
	}
)

// GetCapabilities returns the capabilities registered for transportName in
// the default registry.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
