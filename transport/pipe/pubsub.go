package pipe

import (
	"context"
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/pipeflow/delivery"
	"github.com/drblury/pipeflow/envelope"
	"github.com/drblury/pipeflow/transport"
)

// Publisher exposes pipe senders as a Watermill publisher. Topics are
// endpoint names.
type Publisher struct {
	opts []Option

	mu      sync.Mutex
	closed  bool
	senders map[string]*Sender
}

var (
	_ message.Publisher        = (*Publisher)(nil)
	_ transport.SenderProvider = (*Publisher)(nil)
)

func NewPublisher(opts ...Option) *Publisher {
	return &Publisher{opts: opts, senders: make(map[string]*Sender)}
}

// Publish sends each message as its own envelope. Messages that did not
// originate from an envelope are sent as text payloads.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	sender, err := p.sender(topic)
	if err != nil {
		return err
	}
	for _, msg := range messages {
		env, err := envelope.FromWatermill(msg)
		if err != nil {
			return err
		}
		if err := sender.Send(msg.Context(), env); err != nil {
			return err
		}
	}
	return nil
}

// NewSender returns a standalone sender so callers skip the Watermill hop.
func (p *Publisher) NewSender(topic string) (transport.Sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	return NewSender(topic, p.opts...)
}

func (p *Publisher) sender(topic string) (*Sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if s, ok := p.senders[topic]; ok {
		return s, nil
	}
	s, err := NewSender(topic, p.opts...)
	if err != nil {
		return nil, err
	}
	p.senders[topic] = s
	return s, nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for _, s := range p.senders {
		_ = s.Close()
	}
	return nil
}

// Subscriber exposes pipe receivers as a Watermill subscriber. Each
// Subscribe call owns one receiver on the endpoint named by topic.
type Subscriber struct {
	opts   []Option
	logger watermill.LoggerAdapter

	mu        sync.Mutex
	closed    bool
	closing   chan struct{}
	receivers []*Receiver
	wg        sync.WaitGroup
}

var (
	_ message.Subscriber         = (*Subscriber)(nil)
	_ transport.ReceiverProvider = (*Subscriber)(nil)
)

func NewSubscriber(opts ...Option) *Subscriber {
	return &Subscriber{
		opts:    opts,
		logger:  newOptions(opts).Logger,
		closing: make(chan struct{}),
	}
}

// NewReceiver returns a standalone receiver. It is closed together with the
// subscriber.
func (s *Subscriber) NewReceiver(topic string) (transport.Receiver, error) {
	return s.receiver(topic)
}

func (s *Subscriber) receiver(topic string) (*Receiver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	r, err := NewReceiver(topic, s.opts...)
	if err != nil {
		return nil, err
	}
	s.receivers = append(s.receivers, r)
	return r, nil
}

// Subscribe starts a receiver on topic. Watermill Ack settles the delivery as
// acknowledged and Nack as rolled back.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	r, err := s.receiver(topic)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	output := make(chan *message.Message)

	handler := func(ctx context.Context, d *delivery.Delivery) error {
		msg := envelope.ToWatermill(d.Envelope())
		msg.SetContext(ctx)

		select {
		case output <- msg:
		case <-subCtx.Done():
			return d.Rollback(ctx)
		}

		select {
		case <-msg.Acked():
			return d.Acknowledge(ctx)
		case <-msg.Nacked():
			return d.Rollback(ctx)
		case <-subCtx.Done():
			return d.Rollback(ctx)
		}
	}

	if err := r.Start(handler); err != nil {
		cancel()
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-subCtx.Done():
		case <-s.closing:
			cancel()
		}
		if err := r.Close(); err != nil {
			s.logger.Error("Closing pipe receiver failed", err, watermill.LogFields{"topic": topic})
		}
		cancel()
		close(output)
	}()

	return output, nil
}

func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closing)
	receivers := s.receivers
	s.mu.Unlock()

	var errs []error
	for _, r := range receivers {
		errs = append(errs, r.Close())
	}
	s.wg.Wait()
	return errors.Join(errs...)
}
