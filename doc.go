// Package pipeflow moves self-describing message envelopes between processes.
//
// An Envelope carries a text or binary payload, an optional gzip flag, an
// optional priority (0-9) and a typed header dictionary. Envelopes travel as
// one JSON document each; the default "pipe" transport sends them over a
// local Unix domain socket (a named pipe on Windows) with a ready byte from
// the receiver and a receipt byte after each envelope.
//
// Receivers hand each envelope to a single handler in arrival order, wrapped
// in a Delivery. The handler settles every Delivery exactly once with
// Acknowledge, Rollback or Reject; a second call returns an
// *AlreadyHandledError.
//
// A Factory reads Config, builds the configured transport and returns
// senders and receivers for named topics:
//
//	f, err := pipeflow.NewFactory(&pipeflow.Config{}, logger, pipeflow.FactoryOptions{})
//	receiver, err := f.NewReceiver(ctx, "orders")
//	err = receiver.Start(func(ctx context.Context, d *pipeflow.Delivery) error {
//		text, err := d.String()
//		...
//		return d.Acknowledge(ctx)
//	})
//	sender, err := f.NewSender(ctx, "orders")
//	env, err := pipeflow.NewText("Hello, world!", pipeflow.WithHeader("bar", "abc"))
//	err = sender.Send(ctx, env)
//
// # Transports
//
// Besides pipe, the built-in registry carries Watermill based transports that
// satisfy the same Sender/Receiver contract:
//   - channel: in-memory Go channels for tests
//   - kafka: consumer groups via Sarama
//   - rabbitmq: durable AMQP priority queues
//   - nats: NATS Core subjects
//   - http: POST per envelope
//   - aws: SNS topics fanned out to SQS queues, with LocalStack support
//
// Custom transports are added to a TransportRegistry and passed in through
// FactoryOptions.
package pipeflow
