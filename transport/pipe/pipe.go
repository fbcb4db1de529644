// Package pipe is a self-hosted inter-process transport built on local
// byte-stream endpoints: Unix domain sockets on Unix-like systems and named
// pipes on Windows.
//
// Every connection carries exactly one envelope:
//
//	receiver -> sender  readyByte        endpoint accepted the connection
//	sender   -> receiver one JSON envelope, then half-close
//	receiver -> sender  ackByte|nakByte  envelope queued or refused
//
// After each connection the receiver tears its listener down and listens
// again. A sender that has not seen the ready byte has not handed anything
// over yet, so it keeps retrying until the connect timeout expires.
package pipe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/pipeflow/internal/config"
	"github.com/drblury/pipeflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "pipe"

var (
	// ErrConnectionUnavailable means no receiver accepted a connection
	// within the connect timeout. Nothing was transmitted.
	ErrConnectionUnavailable = errors.New("pipe: connection unavailable")
	// ErrRejected is reported inside an *IOError when the receiver refused
	// the envelope.
	ErrRejected = errors.New("pipe: envelope rejected by receiver")
	// ErrProtocol marks an unexpected control byte from the peer.
	ErrProtocol = errors.New("pipe: protocol violation")
	// ErrEndpointInUse is returned by Receiver.Start when another receiver
	// already owns the endpoint.
	ErrEndpointInUse = errors.New("pipe: endpoint in use")
	// ErrInvalidName is returned for endpoint names that cannot be mapped to
	// a socket or pipe path.
	ErrInvalidName = errors.New("pipe: invalid endpoint name")

	ErrClosed         = transport.ErrClosed
	ErrAlreadyStarted = transport.ErrAlreadyStarted
)

// IOError is returned for failures after the receiver accepted the
// connection. The envelope may or may not have been queued, so these errors
// are not retried.
type IOError struct {
	Op       string
	Endpoint string
	Err      error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("pipe: %s %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Options configures senders and receivers.
type Options struct {
	// Directory holds Unix socket files. Empty means os.TempDir(). Ignored on
	// Windows.
	Directory string
	// ConnectTimeout bounds how long a sender waits for a receiver.
	ConnectTimeout time.Duration
	// ReadTimeout bounds a single exchange once connected.
	ReadTimeout time.Duration
	// IdleTimeout bounds how long a receiver waits for the first byte of an
	// envelope before dropping the connection.
	IdleTimeout time.Duration
	// MaxMessageSize caps the encoded envelope a receiver accepts.
	MaxMessageSize int64
	// Compress makes senders gzip payloads that are not compressed yet.
	Compress bool
	Logger   watermill.LoggerAdapter
	Metrics  *Metrics
}

// Option mutates Options.
type Option func(*Options)

func WithDirectory(dir string) Option {
	return func(o *Options) { o.Directory = dir }
}

func WithConnectTimeout(d time.Duration) Option {
	return func(o *Options) { o.ConnectTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *Options) { o.ReadTimeout = d }
}

func WithIdleTimeout(d time.Duration) Option {
	return func(o *Options) { o.IdleTimeout = d }
}

func WithMaxMessageSize(n int64) Option {
	return func(o *Options) { o.MaxMessageSize = n }
}

func WithCompression(enabled bool) Option {
	return func(o *Options) { o.Compress = enabled }
}

func WithLogger(logger watermill.LoggerAdapter) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithMetrics records sender and receiver activity on m.
func WithMetrics(m *Metrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// OptionsFromConfig maps the pipe section of cfg onto options.
func OptionsFromConfig(cfg transport.Config) []Option {
	return []Option{
		WithDirectory(cfg.GetPipeDirectory()),
		WithConnectTimeout(cfg.GetPipeConnectTimeout()),
		WithReadTimeout(cfg.GetPipeReadTimeout()),
		WithIdleTimeout(cfg.GetPipeIdleTimeout()),
		WithMaxMessageSize(cfg.GetPipeMaxMessageSize()),
		WithCompression(cfg.GetPipeCompress()),
	}
}

func newOptions(opts []Option) Options {
	var o Options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = config.DefaultPipeConnectTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = config.DefaultPipeReadTimeout
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = config.DefaultPipeIdleTimeout
	}
	if o.IdleTimeout >= o.ConnectTimeout {
		o.IdleTimeout = o.ConnectTimeout / 2
	}
	if o.IdleTimeout > o.ReadTimeout {
		o.IdleTimeout = o.ReadTimeout
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = config.DefaultPipeMaxMessageSize
	}
	if o.Logger == nil {
		o.Logger = watermill.NopLogger{}
	}
	return o
}

// Builder returns a transport.Builder that applies extra on top of the
// options derived from the config.
func Builder(extra ...Option) transport.Builder {
	return func(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
		opts := append(OptionsFromConfig(cfg), WithLogger(logger))
		opts = append(opts, extra...)
		return transport.Transport{
			Publisher:  NewPublisher(opts...),
			Subscriber: NewSubscriber(opts...),
		}, nil
	}
}

// Build creates a pipe transport from cfg.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	return Builder()(ctx, cfg, logger)
}

// Register adds the pipe transport to r.
func Register(r *transport.Registry) {
	r.RegisterWithCapabilities(TransportName, Build, transport.PipeCapabilities)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.PipeCapabilities
}
