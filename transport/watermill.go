package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/pipeflow/delivery"
	"github.com/drblury/pipeflow/envelope"
	errspkg "github.com/drblury/pipeflow/internal/errors"
)

// WatermillSender publishes envelopes through a Watermill publisher. Closing
// the sender does not close the publisher; its owner does that.
type WatermillSender struct {
	publisher message.Publisher
	topic     string
	closed    atomic.Bool
}

// NewWatermillSender adapts pub to the Sender contract for topic.
func NewWatermillSender(pub message.Publisher, topic string) (*WatermillSender, error) {
	if pub == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	return &WatermillSender{publisher: pub, topic: topic}, nil
}

func (s *WatermillSender) Send(ctx context.Context, env *envelope.Envelope) error {
	if env == nil {
		return errspkg.ErrEnvelopeRequired
	}
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := envelope.ToWatermill(env)
	msg.SetContext(ctx)
	return s.publisher.Publish(s.topic, msg)
}

func (s *WatermillSender) Close() error {
	s.closed.Store(true)
	return nil
}

// WatermillReceiver turns a Watermill subscription into deliveries. Every
// delivery settles its message through delivery.WatermillSettler, and a
// handler that returns without settling gets the message nacked.
type WatermillReceiver struct {
	subscriber message.Subscriber
	topic      string
	logger     watermill.LoggerAdapter

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWatermillReceiver adapts sub to the Receiver contract for topic.
func NewWatermillReceiver(sub message.Subscriber, topic string, logger watermill.LoggerAdapter) (*WatermillReceiver, error) {
	if sub == nil {
		return nil, errspkg.ErrSubscriberRequired
	}
	if topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &WatermillReceiver{
		subscriber: sub,
		topic:      topic,
		logger:     logger.With(watermill.LogFields{"topic": topic}),
	}, nil
}

func (r *WatermillReceiver) Start(h Handler) error {
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

	ctx, cancel := context.WithCancel(context.Background())
	messages, err := r.subscriber.Subscribe(ctx, r.topic)
	if err != nil {
		cancel()
		return err
	}

	r.started = true
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.consume(ctx, messages, h)
	return nil
}

func (r *WatermillReceiver) consume(ctx context.Context, messages <-chan *message.Message, h Handler) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			r.handle(ctx, msg, h)
		}
	}
}

func (r *WatermillReceiver) handle(ctx context.Context, msg *message.Message, h Handler) {
	fields := watermill.LogFields{"message_uuid": msg.UUID}

	env, err := envelope.FromWatermill(msg)
	if err != nil {
		r.logger.Error("Dropping message that is not a valid envelope", err, fields)
		msg.Ack()
		return
	}

	d := delivery.New(env,
		delivery.WithTopic(r.topic),
		delivery.WithSettler(delivery.WatermillSettler(msg)),
	)
	out := delivery.Dispatch(ctx, h, d, r.logger)
	if out.Unsettled {
		msg.Nack()
	}
}

// Close cancels the subscription and waits for the in-flight handler call.
func (r *WatermillReceiver) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}
