package delivery

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/ThreeDotsLabs/watermill"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrHandlerPanicked wraps a panic recovered from a handler.
var ErrHandlerPanicked = errors.New("delivery: handler panicked")

// HandlerFunc is the shape of a receiver handler.
type HandlerFunc func(ctx context.Context, d *Delivery) error

// Outcome summarizes one dispatch.
type Outcome struct {
	Err         error
	Disposition Disposition
	// Unsettled is true when the handler returned without error and without
	// choosing a disposition.
	Unsettled bool
}

// Dispatch invokes h for d on the calling goroutine. Panics are recovered
// and treated as handler errors. A failed handler that left the delivery
// pending has it rolled back.
func Dispatch(ctx context.Context, h HandlerFunc, d *Delivery, logger watermill.LoggerAdapter) Outcome {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	fields := watermill.LogFields{"message_uuid": d.ID(), "topic": d.Topic()}

	ctx, span := otel.Tracer("pipeflow").Start(ctx, "pipeflow.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("message.uuid", d.ID()),
		attribute.String("messaging.destination", d.Topic()),
	)

	err := invoke(ctx, h, d)
	out := Outcome{Err: err}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("Handler failed", err, fields)
		if !d.Handled() {
			if rbErr := d.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, ErrAlreadyHandled) {
				logger.Error("Rollback after handler failure failed", rbErr, fields)
			}
		}
	}

	out.Disposition = d.Disposition()
	if err == nil && out.Disposition == Pending {
		out.Unsettled = true
		logger.Info("Handler returned without settling the delivery", fields)
	}
	span.SetAttributes(attribute.String("pipeflow.disposition", out.Disposition.String()))
	return out
}

func invoke(ctx context.Context, h HandlerFunc, d *Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrHandlerPanicked, r, debug.Stack())
		}
	}()
	return h(ctx, d)
}
