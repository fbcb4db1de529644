// Package nats provides a NATS Core transport for pipeflow.
package nats

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/pipeflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

const (
	connectionName = "pipeflow"
	reconnectWait  = 2 * time.Second
	closeTimeout   = 30 * time.Second
)

// ErrURLRequired is returned when no server URL is configured.
var ErrURLRequired = errors.New("nats: URL is required")

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

// Register adds the NATS transport to r.
func Register(r *transport.Registry) {
	r.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Build creates a new NATS transport. JetStream is disabled so the
// subscription is a plain core subject.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return transport.Transport{}, ErrURLRequired
	}
	marshaler := &nats.NATSMarshaler{}
	options := connectionOptions()
	jetStream := nats.JetStreamConfig{Disabled: true}

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: options,
			Marshaler:   marshaler,
			JetStream:   jetStream,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:          url,
			NatsOptions:  options,
			Unmarshaler:  marshaler,
			CloseTimeout: closeTimeout,
			JetStream:    jetStream,
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

func connectionOptions() []nc.Option {
	return []nc.Option{
		nc.Name(connectionName),
		nc.RetryOnFailedConnect(true),
		nc.MaxReconnects(-1),
		nc.ReconnectWait(reconnectWait),
	}
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
