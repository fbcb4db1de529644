// Package transport defines the send/receive contract every pipeflow transport
// satisfies. Each transport implementation (pipe, kafka, rabbitmq, aws, etc.)
// lives in its own sub-package and registers itself with a Registry.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/pipeflow/delivery"
	"github.com/drblury/pipeflow/envelope"
)

var (
	// ErrClosed is returned when a closed sender or receiver is used.
	ErrClosed = errors.New("transport: closed")
	// ErrAlreadyStarted is returned by a second Receiver.Start call.
	ErrAlreadyStarted = errors.New("transport: receiver already started")
)

// Handler processes one delivery. It must settle the delivery with exactly
// one of Acknowledge, Rollback or Reject.
type Handler = delivery.HandlerFunc

// Sender transmits envelopes to one destination.
type Sender interface {
	Send(ctx context.Context, env *envelope.Envelope) error
	Close() error
}

// Receiver delivers envelopes from one source to a single handler.
type Receiver interface {
	// Start registers the handler and begins receiving. It may be called once.
	Start(h Handler) error
	// Close stops receiving and returns once no handler call is in flight.
	Close() error
}

// SenderProvider is implemented by publishers that have a native Sender and
// should not be wrapped by NewWatermillSender.
type SenderProvider interface {
	NewSender(topic string) (Sender, error)
}

// ReceiverProvider is the subscriber side counterpart of SenderProvider.
type ReceiverProvider interface {
	NewReceiver(topic string) (Receiver, error)
}

// SendAsync runs s.Send on its own goroutine. The returned channel yields
// exactly one value and is then closed.
func SendAsync(ctx context.Context, s Sender, env *envelope.Envelope) <-chan error {
	result := make(chan error, 1)
	go func() {
		defer close(result)
		result <- s.Send(ctx, env)
	}()
	return result
}

// Transport combines a publisher and subscriber pair produced by a factory.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes both halves and joins their errors.
func (t Transport) Close() error {
	var errs []error
	if t.Publisher != nil {
		errs = append(errs, t.Publisher.Close())
	}
	if t.Subscriber != nil {
		errs = append(errs, t.Subscriber.Close())
	}
	return errors.Join(errs...)
}

// Builder is the function signature for creating a transport from config.
// Each transport package provides a Build function that can be registered.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by transports.
// This interface allows transports to access only the config they need
// without depending on the full config package.
type Config interface {
	// GetPubSubSystem returns the transport type name.
	GetPubSubSystem() string

	// Pipe
	GetPipeDirectory() string
	GetPipeConnectTimeout() time.Duration
	GetPipeReadTimeout() time.Duration
	GetPipeIdleTimeout() time.Duration
	GetPipeMaxMessageSize() int64
	GetPipeCompress() bool

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
