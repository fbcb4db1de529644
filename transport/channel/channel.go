// Package channel provides an in-memory Go channel transport for pipeflow.
// Senders and receivers only meet when they share the same built transport,
// so it suits tests and single-process wiring.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/pipeflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// OutputBuffer is the per-subscription buffer of the underlying GoChannel.
const OutputBuffer = 64

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

// Register adds the channel transport to r.
func Register(r *transport.Registry) {
	r.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates a new Go channel transport. Messages published while no
// receiver is subscribed are dropped.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(gochannel.Config{OutputChannelBuffer: OutputBuffer}, logger)
	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
