// Package http provides an HTTP transport for pipeflow. Envelopes are POSTed
// to <publisher URL>/<topic> and served by a subscriber listening on the
// configured address.
package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/pipeflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "http"

// ErrEndpointRequired is returned when neither a server address nor a
// publisher URL is configured.
var ErrEndpointRequired = errors.New("http: server address or publisher URL is required")

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, config, logger)
}

// Register adds the HTTP transport to r.
func Register(r *transport.Registry) {
	r.RegisterWithCapabilities(TransportName, Build, transport.HTTPCapabilities)
}

// Build creates a new HTTP transport. Only the configured halves are created:
// a process that only sends needs no listening server.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	serverAddr := cfg.GetHTTPServerAddress()
	publisherURL := cfg.GetHTTPPublisherURL()
	if serverAddr == "" && publisherURL == "" {
		return transport.Transport{}, ErrEndpointRequired
	}

	var tr transport.Transport
	if publisherURL != "" {
		publisher, err := PublisherFactory(
			http.PublisherConfig{
				MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
					return http.DefaultMarshalMessageFunc(TopicURL(publisherURL, topic), msg)
				},
			},
			logger,
		)
		if err != nil {
			return transport.Transport{}, err
		}
		tr.Publisher = publisher
	}

	if serverAddr != "" {
		subscriber, err := SubscriberFactory(
			serverAddr,
			http.SubscriberConfig{
				UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
			},
			logger,
		)
		if err != nil {
			_ = tr.Close()
			return transport.Transport{}, err
		}
		tr.Subscriber = subscriber

		if s, ok := subscriber.(*http.Subscriber); ok {
			go func() {
				if err := s.StartHTTPServer(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
					logger.Error("HTTP subscriber server stopped", err, watermill.LogFields{"addr": serverAddr})
				}
			}()
		}
	}

	return tr, nil
}

// TopicURL joins the publisher base URL and a topic with exactly one slash.
func TopicURL(base, topic string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(topic, "/")
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}
