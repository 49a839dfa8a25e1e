// Package transports registers every built-in transport with the default
// registry. Import it for its side effects.
package transports

import (
	_ "github.com/drblury/eventbridge/transport/aws"
	_ "github.com/drblury/eventbridge/transport/channel"
	_ "github.com/drblury/eventbridge/transport/http"
	_ "github.com/drblury/eventbridge/transport/jetstream"
	_ "github.com/drblury/eventbridge/transport/kafka"
	_ "github.com/drblury/eventbridge/transport/nats"
	_ "github.com/drblury/eventbridge/transport/rabbitmq"
)
