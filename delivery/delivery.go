// Package delivery implements the receiver-side message handle and the
// acknowledgment state machine shared by every pipeflow transport.
//
// A Delivery starts Pending and moves exactly once to Acknowledged,
// RolledBack or Rejected. Any later call returns an *AlreadyHandledError.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"

	"github.com/drblury/pipeflow/envelope"
	"github.com/drblury/pipeflow/headers"
)

// Disposition is the outcome recorded on a delivery.
type Disposition int

const (
	Pending Disposition = iota
	Acknowledged
	RolledBack
	Rejected
)

func (d Disposition) String() string {
	switch d {
	case Pending:
		return "pending"
	case Acknowledged:
		return "acknowledged"
	case RolledBack:
		return "rolled back"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("disposition(%d)", int(d))
	}
}

// ErrAlreadyHandled matches every *AlreadyHandledError.
var ErrAlreadyHandled = errors.New("delivery: already handled")

// AlreadyHandledError is returned by the second and every later settle call.
type AlreadyHandledError struct {
	Disposition Disposition
}

func (e *AlreadyHandledError) Error() string {
	return fmt.Sprintf("delivery: already handled (%s)", e.Disposition)
}

func (e *AlreadyHandledError) Is(target error) bool { return target == ErrAlreadyHandled }

// Settler performs the transport side effect of a disposition, for example
// acking a broker message. It runs at most once per delivery.
type Settler interface {
	Settle(ctx context.Context, d Disposition) error
}

// SettlerFunc adapts a function to Settler.
type SettlerFunc func(ctx context.Context, d Disposition) error

func (f SettlerFunc) Settle(ctx context.Context, d Disposition) error { return f(ctx, d) }

// Delivery wraps a decoded envelope handed to a receiver handler.
type Delivery struct {
	env        *envelope.Envelope
	topic      string
	receivedAt time.Time
	settler    Settler

	mu          sync.Mutex
	disposition Disposition
	settledAt   time.Time
}

// Option configures a Delivery.
type Option func(*Delivery)

// WithSettler attaches the transport side effect.
func WithSettler(s Settler) Option {
	return func(d *Delivery) { d.settler = s }
}

// WithTopic records the topic or endpoint the delivery arrived on.
func WithTopic(topic string) Option {
	return func(d *Delivery) { d.topic = topic }
}

// New wraps env in a pending Delivery.
func New(env *envelope.Envelope, opts ...Option) *Delivery {
	d := &Delivery{env: env, receivedAt: time.Now()}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

func (d *Delivery) Envelope() *envelope.Envelope { return d.env }
func (d *Delivery) ID() string                   { return d.env.ID() }
func (d *Delivery) Topic() string                { return d.topic }
func (d *Delivery) ReceivedAt() time.Time        { return d.receivedAt }
func (d *Delivery) Headers() headers.Dictionary  { return d.env.Headers() }
func (d *Delivery) IsBinary() bool               { return d.env.IsBinary() }
func (d *Delivery) Priority() (int, bool)        { return d.env.Priority() }

// String returns the text view of the payload. Binary payloads come back
// base64 encoded.
func (d *Delivery) String() (string, error) { return d.env.String() }

// Bytes returns the binary view of the payload.
func (d *Delivery) Bytes() ([]byte, error) { return d.env.Bytes() }

// DecodeJSON unmarshals the payload into v.
func (d *Delivery) DecodeJSON(v any) error { return envelope.UnmarshalJSON(d.env, v) }

// DecodeProto unmarshals the payload into msg.
func (d *Delivery) DecodeProto(msg proto.Message) error { return envelope.UnmarshalProto(d.env, msg) }

// Disposition returns the current state.
func (d *Delivery) Disposition() Disposition {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disposition
}

// Handled reports whether a disposition has been recorded.
func (d *Delivery) Handled() bool { return d.Disposition() != Pending }

// Acknowledge marks the message as successfully processed.
func (d *Delivery) Acknowledge(ctx context.Context) error { return d.settle(ctx, Acknowledged) }

// Rollback asks the transport to redeliver the message where it can.
func (d *Delivery) Rollback(ctx context.Context) error { return d.settle(ctx, RolledBack) }

// Reject drops the message without redelivery.
func (d *Delivery) Reject(ctx context.Context) error { return d.settle(ctx, Rejected) }

// settle claims the transition under the lock and runs the settler outside
// it. A settler failure is returned but the disposition stays recorded.
func (d *Delivery) settle(ctx context.Context, to Disposition) error {
	d.mu.Lock()
	if d.disposition != Pending {
		current := d.disposition
		d.mu.Unlock()
		return &AlreadyHandledError{Disposition: current}
	}
	d.disposition = to
	d.settledAt = time.Now()
	d.mu.Unlock()

	if d.settler == nil {
		return nil
	}
	if err := d.settler.Settle(ctx, to); err != nil {
		return fmt.Errorf("delivery: settle %s: %w", to, err)
	}
	return nil
}
