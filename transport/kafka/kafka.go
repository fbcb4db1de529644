// Package kafka provides a Kafka transport for pipeflow.
package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/pipeflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

// DefaultConsumerGroup is used when the config leaves the group empty.
const DefaultConsumerGroup = "pipeflow"

const clientID = "pipeflow"

// ErrBrokersRequired is returned when no broker address is configured.
var ErrBrokersRequired = errors.New("kafka: at least one broker is required")

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

// Register adds the Kafka transport to r.
func Register(r *transport.Registry) {
	r.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

// Build creates a new Kafka transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()
	if len(brokers) == 0 {
		return transport.Transport{}, ErrBrokersRequired
	}
	consumerGroup := cfg.GetKafkaConsumerGroup()
	if consumerGroup == "" {
		consumerGroup = DefaultConsumerGroup
	}

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: publisherSaramaConfig(),
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			ConsumerGroup:         consumerGroup,
			OverwriteSaramaConfig: subscriberSaramaConfig(),
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

func publisherSaramaConfig() *sarama.Config {
	c := kafka.DefaultSaramaSyncPublisherConfig()
	c.ClientID = clientID
	c.Producer.RequiredAcks = sarama.WaitForAll
	return c
}

// New consumer groups start from the oldest offset so envelopes sent before
// the first receiver started are not skipped.
func subscriberSaramaConfig() *sarama.Config {
	c := kafka.DefaultSaramaSubscriberConfig()
	c.ClientID = clientID
	c.Consumer.Offsets.Initial = sarama.OffsetOldest
	return c
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}
