package transport

// Capabilities describes the delivery guarantees of a transport as far as
// the pubsub connector cares about them.
type Capabilities struct {
	Name string

	// Ordered transports deliver the frames of one link in publish order.
	// Interest updates arriving out of order can only widen what a peer
	// forwards, so unordered transports stay correct but less selective.
	Ordered bool

	// Acknowledged transports redeliver frames the consumer did not ack.
	Acknowledged bool

	// Headers reports whether message metadata survives the broker. The
	// handshake and trace propagation both travel in metadata.
	Headers bool

	// PointToPoint transports publish to one fixed peer instead of a shared
	// broker, so a node can only link with that peer.
	PointToPoint bool

	// MaxMessageSize is the largest payload in bytes; zero means unknown.
	MaxMessageSize int64
}

// Selective reports whether selective forwarding can rely on the transport
// to keep interest updates in order.
func (c Capabilities) Selective() bool {
	return c.Ordered
}

// Fits reports whether a payload of size bytes can be published.
func (c Capabilities) Fits(size int) bool {
	return c.MaxMessageSize == 0 || int64(size) <= c.MaxMessageSize
}

var (
	ChannelCapabilities = Capabilities{
		Name:         "channel",
		Ordered:      false,
		Acknowledged: true,
		Headers:      true,
	}

	KafkaCapabilities = Capabilities{
		Name:           "kafka",
		Ordered:        true,
		Acknowledged:   true,
		Headers:        true,
		MaxMessageSize: 1048576,
	}

	RabbitMQCapabilities = Capabilities{
		Name:         "rabbitmq",
		Ordered:      true,
		Acknowledged: true,
		Headers:      true,
	}

	NATSCapabilities = Capabilities{
		Name:           "nats",
		Ordered:        false,
		Headers:        true,
		MaxMessageSize: 1048576,
	}

	NATSJetStreamCapabilities = Capabilities{
		Name:           "nats-jetstream",
		Ordered:        true,
		Acknowledged:   true,
		Headers:        true,
		MaxMessageSize: 1048576,
	}

	AWSCapabilities = Capabilities{
		Name:           "aws",
		Ordered:        false,
		Acknowledged:   true,
		Headers:        true,
		MaxMessageSize: 262144,
	}

	HTTPCapabilities = Capabilities{
		Name:         "http",
		Ordered:      false,
		Headers:      true,
		PointToPoint: true,
	}
)
