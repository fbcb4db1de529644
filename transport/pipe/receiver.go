package pipe

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/cenkalti/backoff/v5"

	"github.com/drblury/pipeflow/delivery"
	"github.com/drblury/pipeflow/envelope"
	errspkg "github.com/drblury/pipeflow/internal/errors"
	"github.com/drblury/pipeflow/internal/handoff"
	"github.com/drblury/pipeflow/transport"
)

// Receiver listens on one named endpoint and hands every envelope to a single
// handler in arrival order.
//
// Two goroutines run after Start: the accept loop, which owns the listener
// and serves one connection per listener generation, and the consumer, which
// invokes the handler. They only share the hand-off queue.
type Receiver struct {
	name    string
	address string
	opts    Options
	logger  watermill.LoggerAdapter
	queue   *handoff.Queue[*delivery.Delivery]

	closeOnce sync.Once

	mu       sync.Mutex
	started  bool
	closed   bool
	lock     io.Closer
	listener net.Listener
	conn     net.Conn
	cancel   context.CancelFunc

	acceptDone   chan struct{}
	consumerDone chan struct{}
}

// NewReceiver creates a receiver for the endpoint called name. Nothing is
// listening until Start.
func NewReceiver(name string, opts ...Option) (*Receiver, error) {
	o := newOptions(opts)
	address, err := EndpointAddress(o.Directory, name)
	if err != nil {
		return nil, err
	}
	return &Receiver{
		name:    name,
		address: address,
		opts:    o,
		logger:  o.Logger.With(watermill.LogFields{"endpoint": name}),
		queue:   handoff.New[*delivery.Delivery](),
	}, nil
}

// Address returns the socket path or pipe name the receiver listens on.
func (r *Receiver) Address() string { return r.address }

// Start claims the endpoint and starts delivering to h. The first listen
// happens before Start returns, so a failure there is reported to the caller.
// An endpoint owned by a live receiver yields ErrEndpointInUse.
func (r *Receiver) Start(h transport.Handler) error {
	if h == nil {
		return errspkg.ErrHandlerRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.started {
		return ErrAlreadyStarted
	}

	lock, err := lockEndpoint(r.address)
	if err != nil {
		return err
	}
	l, err := listen(r.address)
	if err != nil {
		_ = lock.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.started = true
	r.lock = lock
	r.listener = l
	r.cancel = cancel
	r.acceptDone = make(chan struct{})
	r.consumerDone = make(chan struct{})

	go r.acceptLoop(ctx, l)
	go r.consume(h)

	r.logger.Info("Pipe receiver listening", watermill.LogFields{"address": r.address})
	return nil
}

// Close stops accepting connections, lets the handler finish every delivery
// that was already queued and waits for the consumer to exit. Concurrent and
// repeated calls block until the first one has finished.
func (r *Receiver) Close() error {
	r.closeOnce.Do(r.shutdown)
	return nil
}

func (r *Receiver) shutdown() {
	r.mu.Lock()
	r.closed = true
	started := r.started
	if started {
		r.cancel()
		if r.listener != nil {
			_ = r.listener.Close()
		}
		if r.conn != nil {
			_ = r.conn.SetDeadline(time.Now())
		}
	}
	r.mu.Unlock()

	if started {
		<-r.acceptDone
		_ = r.lock.Close()
	}
	r.queue.Close()
	if started {
		<-r.consumerDone
	}
}

func (r *Receiver) acceptLoop(ctx context.Context, l net.Listener) {
	defer close(r.acceptDone)

	for {
		conn, err := l.Accept()
		// One connection per listener generation.
		_ = l.Close()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("Accept failed", err, nil)
		} else {
			r.serve(ctx, conn)
		}

		if ctx.Err() != nil {
			return
		}
		if l, err = r.relisten(ctx); err != nil {
			return
		}
	}
}

// relisten arms the next listener generation, retrying until it succeeds or
// the receiver is closed.
func (r *Receiver) relisten(ctx context.Context) (net.Listener, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = time.Second

	l, err := backoff.Retry(ctx, func() (net.Listener, error) {
		l, err := listen(r.address)
		if err != nil {
			r.logger.Error("Listen failed, retrying", err, nil)
		}
		return l, err
	}, backoff.WithBackOff(policy), backoff.WithMaxElapsedTime(0))
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = l.Close()
		return nil, ErrClosed
	}
	r.listener = l
	return l, nil
}

func (r *Receiver) serve(ctx context.Context, conn net.Conn) {
	if !r.track(conn) {
		_ = conn.Close()
		return
	}
	defer func() {
		r.track(nil)
		_ = conn.Close()
	}()

	if !r.setDeadline(conn, r.opts.ReadTimeout) {
		return
	}
	if _, err := conn.Write([]byte{readyByte}); err != nil {
		r.logger.Debug("Peer left before ready", watermill.LogFields{"err": err.Error()})
		return
	}

	br := bufio.NewReader(io.LimitReader(conn, r.opts.MaxMessageSize))
	if !r.setDeadline(conn, r.opts.IdleTimeout) {
		return
	}
	if _, err := br.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			r.logger.Debug("Connection closed without a message", nil)
		} else {
			r.logger.Info("Dropping idle connection", watermill.LogFields{"err": err.Error()})
		}
		return
	}
	if !r.setDeadline(conn, r.opts.ReadTimeout) {
		return
	}

	env, err := envelope.Decode(br)
	if err != nil {
		r.opts.Metrics.recordDecodeFailure(r.name)
		r.logger.Error("Discarding connection without a valid envelope", err, nil)
		_, _ = conn.Write([]byte{nakByte})
		return
	}
	if env == nil {
		r.logger.Debug("Connection closed without a message", nil)
		return
	}

	d := delivery.New(env, delivery.WithTopic(r.name))
	if err := r.queue.Push(d); err != nil {
		_, _ = conn.Write([]byte{nakByte})
		return
	}
	r.opts.Metrics.recordReceived(r.name, r.queue.Len())
	r.logger.Trace("Envelope queued", watermill.LogFields{"message_uuid": env.ID()})

	if _, err := conn.Write([]byte{ackByte}); err != nil && ctx.Err() == nil {
		r.logger.Debug("Receipt not delivered", watermill.LogFields{"err": err.Error()})
	}
}

// setDeadline pushes the deadline of the in-flight connection out by d. It
// reports false once Close has started, so the deadline Close set sticks.
func (r *Receiver) setDeadline(conn net.Conn, d time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	_ = conn.SetDeadline(time.Now().Add(d))
	return true
}

// track records the in-flight connection so Close can interrupt it. It
// reports false when the receiver is already closed.
func (r *Receiver) track(conn net.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn != nil && r.closed {
		return false
	}
	r.conn = conn
	return true
}

func (r *Receiver) consume(h transport.Handler) {
	defer close(r.consumerDone)

	ctx := context.Background()
	for {
		d, ok := r.queue.Pop()
		if !ok {
			return
		}
		out := delivery.Dispatch(ctx, h, d, r.logger)
		r.opts.Metrics.recordDispatch(r.name, out, r.queue.Len())
	}
}
