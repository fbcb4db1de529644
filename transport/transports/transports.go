// Package transports wires every built-in transport into a registry.
package transports

import (
	"github.com/drblury/pipeflow/transport"
	"github.com/drblury/pipeflow/transport/aws"
	"github.com/drblury/pipeflow/transport/channel"
	"github.com/drblury/pipeflow/transport/http"
	"github.com/drblury/pipeflow/transport/kafka"
	"github.com/drblury/pipeflow/transport/nats"
	"github.com/drblury/pipeflow/transport/pipe"
	"github.com/drblury/pipeflow/transport/rabbitmq"
)

// NewRegistry returns a registry holding all built-in transports.
func NewRegistry() *transport.Registry {
	r := transport.NewRegistry()
	RegisterAll(r)
	return r
}

// RegisterAll adds all built-in transports to r. Entries already present
// under the same name are replaced.
func RegisterAll(r *transport.Registry) {
	pipe.Register(r)
	channel.Register(r)
	kafka.Register(r)
	rabbitmq.Register(r)
	nats.Register(r)
	http.Register(r)
	aws.Register(r)
}
