package delivery

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
)

// WatermillSettler maps dispositions onto a Watermill message: acknowledge
// and reject call Ack, rollback calls Nack so the subscriber redelivers.
func WatermillSettler(msg *message.Message) Settler {
	return SettlerFunc(func(_ context.Context, d Disposition) error {
		switch d {
		case RolledBack:
			msg.Nack()
		default:
			msg.Ack()
		}
		return nil
	})
}
