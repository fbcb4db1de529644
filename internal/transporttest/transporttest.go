// Package transporttest holds Watermill doubles shared by the transport
// package tests.
package transporttest

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Publisher records published messages.
type Publisher struct {
	mu        sync.Mutex
	Published map[string][]*message.Message
	Err       error
	Closed    bool
}

func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	if p.Published == nil {
		p.Published = make(map[string][]*message.Message)
	}
	p.Published[topic] = append(p.Published[topic], messages...)
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// Messages returns what was published on topic.
func (p *Publisher) Messages(topic string) []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*message.Message(nil), p.Published[topic]...)
}

// Subscriber hands out an unbuffered channel per Subscribe call.
type Subscriber struct {
	mu     sync.Mutex
	Err    error
	Closed bool
}

func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	ch := make(chan *message.Message)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}
