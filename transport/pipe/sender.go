package pipe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/pipeflow/envelope"
	errspkg "github.com/drblury/pipeflow/internal/errors"
)

const tracerName = "github.com/drblury/pipeflow/transport/pipe"

// Sender writes envelopes to one named endpoint. It is safe for concurrent
// use; every Send opens its own connection.
type Sender struct {
	name    string
	address string
	opts    Options
	logger  watermill.LoggerAdapter
	closed  atomic.Bool
}

// NewSender creates a sender for the endpoint called name.
func NewSender(name string, opts ...Option) (*Sender, error) {
	o := newOptions(opts)
	address, err := EndpointAddress(o.Directory, name)
	if err != nil {
		return nil, err
	}
	return &Sender{
		name:    name,
		address: address,
		opts:    o,
		logger:  o.Logger.With(watermill.LogFields{"endpoint": name}),
	}, nil
}

// Address returns the socket path or pipe name the sender dials.
func (s *Sender) Address() string { return s.address }

// Send transmits env and returns once the receiver has queued it.
//
// ErrConnectionUnavailable means no receiver accepted within the connect
// timeout and nothing was sent. Any later failure is an *IOError.
func (s *Sender) Send(ctx context.Context, env *envelope.Envelope) (err error) {
	if env == nil {
		return errspkg.ErrEnvelopeRequired
	}
	if s.closed.Load() {
		return ErrClosed
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipe.send", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.system", TransportName),
		attribute.String("messaging.destination", s.name),
		attribute.String("message.uuid", env.ID()),
	)
	defer func() {
		s.opts.Metrics.recordSend(s.name, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if s.opts.Compress {
		if env, err = env.Compress(); err != nil {
			return err
		}
	}

	// Encoded up front so the receiver sees the first byte right after ready.
	var doc bytes.Buffer
	if err := envelope.Encode(&doc, env); err != nil {
		return fmt.Errorf("pipe: encode envelope: %w", err)
	}

	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	return s.transmit(ctx, conn, doc.Bytes())
}

// Close marks the sender as disposed. Sends already in flight finish.
func (s *Sender) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Sender) connect(ctx context.Context) (net.Conn, error) {
	connectCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Millisecond
	policy.MaxInterval = 250 * time.Millisecond

	var (
		attempts int
		lastErr  error
	)
	conn, err := backoff.Retry(connectCtx, func() (net.Conn, error) {
		attempts++
		conn, err := s.handshake(connectCtx)
		if err != nil {
			lastErr = err
		}
		return conn, err
	}, backoff.WithBackOff(policy), backoff.WithMaxElapsedTime(s.opts.ConnectTimeout))
	s.opts.Metrics.recordRetries(s.name, attempts-1)
	if err == nil {
		return conn, nil
	}

	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("pipe: connect %s: %w", s.name, context.Cause(ctx))
	}
	if lastErr == nil {
		lastErr = err
	}
	s.logger.Debug("Endpoint unavailable", watermill.LogFields{"attempts": attempts, "err": lastErr.Error()})
	return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrConnectionUnavailable, s.address, attempts, lastErr)
}

// handshake dials once and waits for the ready byte. Errors returned before
// the ready byte arrives are retryable.
func (s *Sender) handshake(ctx context.Context) (net.Conn, error) {
	conn, err := dial(ctx, s.address)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}

	var ready [1]byte
	if _, err := io.ReadFull(conn, ready[:]); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("await ready: %w", err)
	}
	if ready[0] != readyByte {
		_ = conn.Close()
		return nil, backoff.Permanent(&IOError{
			Op:       "handshake",
			Endpoint: s.name,
			Err:      fmt.Errorf("%w: ready byte %#x", ErrProtocol, ready[0]),
		})
	}
	return conn, nil
}

func (s *Sender) transmit(ctx context.Context, conn net.Conn, doc []byte) error {
	_ = conn.SetDeadline(time.Now().Add(s.opts.ReadTimeout))
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.Write(doc); err != nil {
		return s.ioError(ctx, "write", err)
	}
	if err := closeWrite(conn); err != nil {
		return s.ioError(ctx, "close write", err)
	}

	var receipt [1]byte
	if _, err := io.ReadFull(conn, receipt[:]); err != nil {
		return s.ioError(ctx, "await receipt", err)
	}
	switch receipt[0] {
	case ackByte:
		return nil
	case nakByte:
		return s.ioError(ctx, "await receipt", ErrRejected)
	default:
		return s.ioError(ctx, "await receipt", fmt.Errorf("%w: receipt byte %#x", ErrProtocol, receipt[0]))
	}
}

func (s *Sender) ioError(ctx context.Context, op string, err error) error {
	if cause := context.Cause(ctx); cause != nil {
		err = fmt.Errorf("%w (%w)", cause, err)
	}
	return &IOError{Op: op, Endpoint: s.name, Err: err}
}
