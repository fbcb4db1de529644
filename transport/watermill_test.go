package transport

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/pipeflow/delivery"
	"github.com/drblury/pipeflow/envelope"
	errspkg "github.com/drblury/pipeflow/internal/errors"
)

func newGoChannel(t *testing.T) *gochannel.GoChannel {
	t.Helper()
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })
	return pubSub
}

func TestWatermillAdapters_HelloWorld(t *testing.T) {
	pubSub := newGoChannel(t)

	receiver, err := NewWatermillReceiver(pubSub, "test-topic", nil)
	require.NoError(t, err)
	defer receiver.Close()

	type observed struct {
		text      string
		bar       string
		secondErr error
	}
	got := make(chan observed, 1)

	require.NoError(t, receiver.Start(func(ctx context.Context, d *delivery.Delivery) error {
		var o observed
		o.text, _ = d.String()
		o.bar, _ = d.Headers().String("bar")
		if err := d.Acknowledge(ctx); err != nil {
			return err
		}
		o.secondErr = d.Acknowledge(ctx)
		got <- o
		return nil
	}))

	sender, err := NewWatermillSender(pubSub, "test-topic")
	require.NoError(t, err)
	defer sender.Close()

	env, err := envelope.NewText("Hello, world!", envelope.WithHeader("bar", "abc"))
	require.NoError(t, err)
	require.NoError(t, sender.Send(context.Background(), env))

	select {
	case o := <-got:
		assert.Equal(t, "Hello, world!", o.text)
		assert.Equal(t, "abc", o.bar)
		assert.ErrorIs(t, o.secondErr, delivery.ErrAlreadyHandled)
	case <-time.After(5 * time.Second):
		t.Fatal("message was not delivered")
	}
}

func TestWatermillReceiver_RollbackRedelivers(t *testing.T) {
	pubSub := newGoChannel(t)

	receiver, err := NewWatermillReceiver(pubSub, "retry", watermill.NopLogger{})
	require.NoError(t, err)
	defer receiver.Close()

	var attempts atomic.Int32
	done := make(chan struct{})
	require.NoError(t, receiver.Start(func(ctx context.Context, d *delivery.Delivery) error {
		switch attempts.Add(1) {
		case 1:
			return d.Rollback(ctx)
		case 2:
			return nil // left unsettled, nacked by the receiver
		default:
			close(done)
			return d.Acknowledge(ctx)
		}
	}))

	sender, err := NewWatermillSender(pubSub, "retry")
	require.NoError(t, err)
	env, err := envelope.NewText("again")
	require.NoError(t, err)
	require.NoError(t, sender.Send(context.Background(), env))

	select {
	case <-done:
		assert.Equal(t, int32(3), attempts.Load())
	case <-time.After(5 * time.Second):
		t.Fatalf("expected redelivery, got %d attempts", attempts.Load())
	}
}

func TestWatermillReceiver_DropsInvalidEnvelopes(t *testing.T) {
	pubSub := newGoChannel(t)

	receiver, err := NewWatermillReceiver(pubSub, "mixed", nil)
	require.NoError(t, err)
	defer receiver.Close()

	got := make(chan string, 2)
	require.NoError(t, receiver.Start(func(ctx context.Context, d *delivery.Delivery) error {
		s, _ := d.String()
		got <- s
		return d.Acknowledge(ctx)
	}))

	bad := message.NewMessage(watermill.NewUUID(), []byte("junk"))
	bad.Metadata.Set(envelope.MetadataFormat, "xml")
	require.NoError(t, pubSub.Publish("mixed", bad))

	sender, err := NewWatermillSender(pubSub, "mixed")
	require.NoError(t, err)
	env, err := envelope.NewText("good")
	require.NoError(t, err)
	require.NoError(t, sender.Send(context.Background(), env))

	select {
	case s := <-got:
		assert.Equal(t, "good", s)
	case <-time.After(5 * time.Second):
		t.Fatal("valid message was not delivered")
	}
}

func TestWatermillReceiver_Lifecycle(t *testing.T) {
	pubSub := newGoChannel(t)
	noop := func(context.Context, *delivery.Delivery) error { return nil }

	receiver, err := NewWatermillReceiver(pubSub, "life", nil)
	require.NoError(t, err)

	require.ErrorIs(t, receiver.Start(nil), errspkg.ErrHandlerRequired)
	require.NoError(t, receiver.Start(noop))
	require.ErrorIs(t, receiver.Start(noop), ErrAlreadyStarted)

	require.NoError(t, receiver.Close())
	require.NoError(t, receiver.Close())
	require.ErrorIs(t, receiver.Start(noop), ErrClosed)

	unstarted, err := NewWatermillReceiver(pubSub, "life", nil)
	require.NoError(t, err)
	require.NoError(t, unstarted.Close())
}

func TestWatermillSender_Errors(t *testing.T) {
	pubSub := newGoChannel(t)

	_, err := NewWatermillSender(nil, "x")
	require.ErrorIs(t, err, errspkg.ErrPublisherRequired)
	_, err = NewWatermillSender(pubSub, "")
	require.ErrorIs(t, err, errspkg.ErrTopicRequired)
	_, err = NewWatermillReceiver(nil, "x", nil)
	require.ErrorIs(t, err, errspkg.ErrSubscriberRequired)

	sender, err := NewWatermillSender(pubSub, "x")
	require.NoError(t, err)
	require.ErrorIs(t, sender.Send(context.Background(), nil), errspkg.ErrEnvelopeRequired)

	env, err := envelope.NewText("x")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sender.Send(ctx, env), context.Canceled)

	require.NoError(t, sender.Close())
	require.ErrorIs(t, sender.Send(context.Background(), env), ErrClosed)
}
