// Package rabbitmq provides a RabbitMQ/AMQP transport for pipeflow.
package rabbitmq

import (
	"context"
	"errors"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/drblury/pipeflow/envelope"
	"github.com/drblury/pipeflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "rabbitmq"

// ErrURLRequired is returned when no AMQP URL is configured.
var ErrURLRequired = errors.New("rabbitmq: URL is required")

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

// Register adds the RabbitMQ transport to r.
func Register(r *transport.Registry) {
	r.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// Build creates a new RabbitMQ transport. Queues are declared as priority
// queues so envelope priorities map onto AMQP message priorities.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetRabbitMQURL()
	if url == "" {
		return transport.Transport{}, ErrURLRequired
	}

	amqpConfig := newConfig(url)

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		TLSConfig: nil,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	publisher, err := PublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

func newConfig(url string) amqp.Config {
	c := amqp.NewDurablePubSubConfig(url, amqp.GenerateQueueNameTopicName)
	c.Marshaler = amqp.DefaultMarshaler{PostprocessPublishing: applyPriority}
	if c.Queue.Arguments == nil {
		c.Queue.Arguments = amqp091.Table{}
	}
	c.Queue.Arguments["x-max-priority"] = int32(envelope.MaxPriority)
	return c
}

func applyPriority(p amqp091.Publishing) amqp091.Publishing {
	raw, ok := p.Headers[envelope.MetadataPriority].(string)
	if !ok {
		return p
	}
	priority, err := strconv.Atoi(raw)
	if err != nil || priority < envelope.MinPriority || priority > envelope.MaxPriority {
		return p
	}
	p.Priority = uint8(priority)
	return p
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}
