// Package transports registers every built-in transport with the default
// registry. Import it for side effects.
package transports

import (
	_ "github.com/drblury/cmdflow/transport/aws"
	_ "github.com/drblury/cmdflow/transport/channel"
	_ "github.com/drblury/cmdflow/transport/http"
	_ "github.com/drblury/cmdflow/transport/kafka"
	_ "github.com/drblury/cmdflow/transport/nats"
	_ "github.com/drblury/cmdflow/transport/rabbitmq"
)
