package delivery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/drblury/pipeflow/envelope"
)

func newDelivery(t *testing.T, opts ...Option) *Delivery {
	t.Helper()
	env, err := envelope.NewText("Hello, world!", envelope.WithHeader("bar", "abc"))
	require.NoError(t, err)
	return New(env, opts...)
}

func TestExactlyOnceAcrossDispositions(t *testing.T) {
	settle := map[string]func(*Delivery, context.Context) error{
		"acknowledge": (*Delivery).Acknowledge,
		"rollback":    (*Delivery).Rollback,
		"reject":      (*Delivery).Reject,
	}
	want := map[string]Disposition{
		"acknowledge": Acknowledged,
		"rollback":    RolledBack,
		"reject":      Rejected,
	}

	for first, firstFn := range settle {
		for second, secondFn := range settle {
			t.Run(first+" then "+second, func(t *testing.T) {
				d := newDelivery(t)
				ctx := context.Background()

				require.NoError(t, firstFn(d, ctx))
				assert.True(t, d.Handled())

				err := secondFn(d, ctx)
				require.ErrorIs(t, err, ErrAlreadyHandled)

				var handled *AlreadyHandledError
				require.ErrorAs(t, err, &handled)
				assert.Equal(t, want[first], handled.Disposition)
				assert.Equal(t, want[first], d.Disposition())
			})
		}
	}
}

func TestConcurrentSettleHasOneWinner(t *testing.T) {
	var calls atomic.Int32
	d := newDelivery(t, WithSettler(SettlerFunc(func(context.Context, Disposition) error {
		calls.Add(1)
		return nil
	})))

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			switch i % 3 {
			case 0:
				err = d.Acknowledge(context.Background())
			case 1:
				err = d.Rollback(context.Background())
			default:
				err = d.Reject(context.Background())
			}
			if err == nil {
				successes.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrAlreadyHandled)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(1), calls.Load())
}

func TestSettlerFailureKeepsDisposition(t *testing.T) {
	boom := errors.New("boom")
	d := newDelivery(t, WithSettler(SettlerFunc(func(context.Context, Disposition) error { return boom })))

	err := d.Acknowledge(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, Acknowledged, d.Disposition())
	require.ErrorIs(t, d.Acknowledge(context.Background()), ErrAlreadyHandled)
}

func TestViews(t *testing.T) {
	d := newDelivery(t, WithTopic("test-pipe"))

	s, err := d.String()
	require.NoError(t, err)
	assert.Equal(t, "Hello, world!", s)

	b, err := d.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("Hello, world!"), b)

	bar, err := d.Headers().String("bar")
	require.NoError(t, err)
	assert.Equal(t, "abc", bar)
	assert.Equal(t, "test-pipe", d.Topic())
	assert.False(t, d.IsBinary())
	assert.Equal(t, Pending, d.Disposition())
}

func TestDecodeHelpers(t *testing.T) {
	env, err := envelope.NewJSON(map[string]string{"a": "b"})
	require.NoError(t, err)
	var out map[string]string
	require.NoError(t, New(env).DecodeJSON(&out))
	assert.Equal(t, "b", out["a"])

	env, err = envelope.NewProto(wrapperspb.Bool(true))
	require.NoError(t, err)
	var msg wrapperspb.BoolValue
	require.NoError(t, New(env).DecodeProto(&msg))
	assert.True(t, msg.GetValue())
}

func TestDispositionString(t *testing.T) {
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "acknowledged", Acknowledged.String())
	assert.Equal(t, "rolled back", RolledBack.String())
	assert.Equal(t, "rejected", Rejected.String())
	assert.Equal(t, "disposition(9)", Disposition(9).String())
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()
	logger := watermill.NopLogger{}

	t.Run("handler acknowledges", func(t *testing.T) {
		d := newDelivery(t)
		out := Dispatch(ctx, func(ctx context.Context, d *Delivery) error {
			return d.Acknowledge(ctx)
		}, d, logger)
		require.NoError(t, out.Err)
		assert.Equal(t, Acknowledged, out.Disposition)
		assert.False(t, out.Unsettled)
	})

	t.Run("handler error rolls back", func(t *testing.T) {
		d := newDelivery(t)
		out := Dispatch(ctx, func(context.Context, *Delivery) error {
			return errors.New("nope")
		}, d, logger)
		require.Error(t, out.Err)
		assert.Equal(t, RolledBack, out.Disposition)
	})

	t.Run("handler error after reject keeps reject", func(t *testing.T) {
		d := newDelivery(t)
		out := Dispatch(ctx, func(ctx context.Context, d *Delivery) error {
			_ = d.Reject(ctx)
			return errors.New("nope")
		}, d, logger)
		require.Error(t, out.Err)
		assert.Equal(t, Rejected, out.Disposition)
	})

	t.Run("panic is recovered", func(t *testing.T) {
		d := newDelivery(t)
		out := Dispatch(ctx, func(context.Context, *Delivery) error {
			panic("kaboom")
		}, d, nil)
		require.ErrorIs(t, out.Err, ErrHandlerPanicked)
		assert.Equal(t, RolledBack, out.Disposition)
	})

	t.Run("unsettled is reported", func(t *testing.T) {
		d := newDelivery(t)
		out := Dispatch(ctx, func(context.Context, *Delivery) error { return nil }, d, logger)
		require.NoError(t, out.Err)
		assert.True(t, out.Unsettled)
		assert.Equal(t, Pending, out.Disposition)
	})
}

func TestWatermillSettler(t *testing.T) {
	cases := []struct {
		name   string
		settle func(*Delivery, context.Context) error
		acked  bool
	}{
		{"acknowledge acks", (*Delivery).Acknowledge, true},
		{"reject acks", (*Delivery).Reject, true},
		{"rollback nacks", (*Delivery).Rollback, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := message.NewMessage(watermill.NewUUID(), []byte("x"))
			d := newDelivery(t, WithSettler(WatermillSettler(msg)))

			require.NoError(t, tc.settle(d, context.Background()))
			if tc.acked {
				assertClosed(t, msg.Acked())
			} else {
				assertClosed(t, msg.Nacked())
			}
		})
	}
}

func assertClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	default:
		t.Fatal("expected channel to be closed")
	}
}
