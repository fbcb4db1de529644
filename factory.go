package pipeflow

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/pipeflow/internal/config"
	errspkg "github.com/drblury/pipeflow/internal/errors"
	loggingpkg "github.com/drblury/pipeflow/internal/logging"
	"github.com/drblury/pipeflow/transport"
	"github.com/drblury/pipeflow/transport/pipe"
	"github.com/drblury/pipeflow/transport/transports"
)

// DefaultPubSubSystem is used when Config.PubSubSystem is empty.
const DefaultPubSubSystem = pipe.TransportName

// FactoryOptions holds the optional collaborators of a Factory. Leave fields
// nil to use the defaults.
type FactoryOptions struct {
	// Registry resolves Config.PubSubSystem. Defaults to transports.NewRegistry().
	Registry *transport.Registry
	// Registerer receives the pipe metrics when Config.MetricsEnabled is set.
	// Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// Factory creates senders and receivers for the configured transport. The
// underlying transport is built on first use and shared by everything the
// factory hands out; Close releases all of it.
type Factory struct {
	conf     configpkg.Config
	logger   loggingpkg.ServiceLogger
	wmLogger watermill.LoggerAdapter
	registry *transport.Registry
	metrics  *pipe.Metrics

	mu        sync.Mutex
	built     bool
	closed    bool
	transport transport.Transport
	senders   []transport.Sender
	receivers []transport.Receiver
}

// NewFactory validates conf and returns a Factory for it. The config is
// copied, so later changes to conf have no effect.
func NewFactory(conf *Config, log ServiceLogger, opts FactoryOptions) (*Factory, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	normalized := *conf
	normalized.PubSubSystem = strings.ToLower(strings.TrimSpace(conf.PubSubSystem))
	if normalized.PubSubSystem == "" {
		normalized.PubSubSystem = DefaultPubSubSystem
	}

	registry := opts.Registry
	if registry == nil {
		registry = transports.NewRegistry()
	}

	f := &Factory{
		conf:     normalized,
		logger:   log,
		wmLogger: loggingpkg.NewWatermillAdapter(log),
		registry: registry,
	}

	if normalized.MetricsEnabled {
		f.metrics = pipe.NewMetrics(opts.Registerer)
		if err := f.metrics.Register(); err != nil {
			return nil, err
		}
	}

	log.Info("Created pipeflow factory", loggingpkg.LogFields{
		"pubsub_system": normalized.PubSubSystem,
		"config":        normalized,
	})
	return f, nil
}

// PubSubSystem returns the name of the transport the factory builds.
func (f *Factory) PubSubSystem() string {
	return f.conf.PubSubSystem
}

// Capabilities reports what the configured transport supports.
func (f *Factory) Capabilities() transport.Capabilities {
	return f.registry.GetCapabilities(f.conf.PubSubSystem)
}

// NewSender returns a sender for topic. For the pipe transport the topic is
// the endpoint name.
func (f *Factory) NewSender(ctx context.Context, topic string) (transport.Sender, error) {
	if topic == "" {
		return nil, errspkg.ErrTopicRequired
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tr, err := f.ensureTransport(ctx)
	if err != nil {
		return nil, err
	}

	var sender transport.Sender
	switch pub := tr.Publisher.(type) {
	case nil:
		return nil, errspkg.ErrPublisherRequired
	case transport.SenderProvider:
		sender, err = pub.NewSender(topic)
	default:
		sender, err = transport.NewWatermillSender(pub, topic)
	}
	if err != nil {
		return nil, err
	}

	f.senders = append(f.senders, sender)
	return sender, nil
}

// NewReceiver returns a receiver for topic. Call Start on it to begin
// receiving.
func (f *Factory) NewReceiver(ctx context.Context, topic string) (transport.Receiver, error) {
	if topic == "" {
		return nil, errspkg.ErrTopicRequired
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tr, err := f.ensureTransport(ctx)
	if err != nil {
		return nil, err
	}

	var receiver transport.Receiver
	switch sub := tr.Subscriber.(type) {
	case nil:
		return nil, errspkg.ErrSubscriberRequired
	case transport.ReceiverProvider:
		receiver, err = sub.NewReceiver(topic)
	default:
		receiver, err = transport.NewWatermillReceiver(sub, topic, f.wmLogger)
	}
	if err != nil {
		return nil, err
	}

	f.receivers = append(f.receivers, receiver)
	return receiver, nil
}

// Close closes every receiver and sender handed out, then the transport.
// Receivers go first so no handler runs against a closed publisher.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	var errs []error
	for _, r := range f.receivers {
		errs = append(errs, r.Close())
	}
	for _, s := range f.senders {
		errs = append(errs, s.Close())
	}
	if f.built {
		errs = append(errs, f.transport.Close())
	}
	f.receivers = nil
	f.senders = nil

	err := errors.Join(errs...)
	if err != nil {
		f.logger.Error("Closing pipeflow factory failed", err, nil)
	}
	return err
}

// ensureTransport must be called with f.mu held.
func (f *Factory) ensureTransport(ctx context.Context) (transport.Transport, error) {
	if f.closed {
		return transport.Transport{}, errspkg.ErrFactoryClosed
	}
	if f.built {
		return f.transport, nil
	}

	var (
		tr  transport.Transport
		err error
	)
	if f.conf.PubSubSystem == pipe.TransportName && f.metrics != nil {
		tr, err = pipe.Builder(pipe.WithMetrics(f.metrics))(ctx, &f.conf, f.wmLogger)
	} else {
		tr, err = f.registry.Build(ctx, &f.conf, f.wmLogger)
	}
	if err != nil {
		f.logger.Error("Building transport failed", err, loggingpkg.LogFields{"pubsub_system": f.conf.PubSubSystem})
		return transport.Transport{}, err
	}

	f.transport = tr
	f.built = true
	return tr, nil
}
