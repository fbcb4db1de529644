package pipeflow

import (
	"github.com/drblury/pipeflow/delivery"
	"github.com/drblury/pipeflow/envelope"
	"github.com/drblury/pipeflow/headers"
	configpkg "github.com/drblury/pipeflow/internal/config"
	errspkg "github.com/drblury/pipeflow/internal/errors"
	jsoncodec "github.com/drblury/pipeflow/internal/jsoncodec"
	loggingpkg "github.com/drblury/pipeflow/internal/logging"
	"github.com/drblury/pipeflow/payload"
	"github.com/drblury/pipeflow/transport"
	"github.com/drblury/pipeflow/transport/pipe"
	"github.com/drblury/pipeflow/transport/transports"
)

type (
	Config = configpkg.Config

	Envelope       = envelope.Envelope
	EnvelopeOption = envelope.Option
	Format         = envelope.Format
	Headers        = headers.Dictionary

	Delivery            = delivery.Delivery
	Disposition         = delivery.Disposition
	AlreadyHandledError = delivery.AlreadyHandledError
	DecodingError       = payload.DecodingError
	IOError             = pipe.IOError

	Sender    = transport.Sender
	Receiver  = transport.Receiver
	Handler   = transport.Handler
	Transport = transport.Transport

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError = errspkg.ConfigValidationError

	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
	PipeMetrics           = pipe.Metrics
)

const (
	FormatText   = envelope.FormatText
	FormatBinary = envelope.FormatBinary

	Pending      = delivery.Pending
	Acknowledged = delivery.Acknowledged
	RolledBack   = delivery.RolledBack
	Rejected     = delivery.Rejected
)

var (
	ValidateConfig = configpkg.ValidateConfig

	NewText         = envelope.NewText
	NewBinary       = envelope.NewBinary
	NewJSON         = envelope.NewJSON
	NewProto        = envelope.NewProto
	NewProtoJSON    = envelope.NewProtoJSON
	WithHeader      = envelope.WithHeader
	WithHeaders     = envelope.WithHeaders
	WithPriority    = envelope.WithPriority
	WithCompression = envelope.WithCompression
	WithID          = envelope.WithID

	SendAsync = transport.SendAsync

	NewTransportRegistry = transports.NewRegistry
	EndpointAddress      = pipe.EndpointAddress
	NewPipeMetrics       = pipe.NewMetrics

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewWatermillAdapter       = loggingpkg.NewWatermillAdapter
	NopServiceLogger          = loggingpkg.NopServiceLogger

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal

	ErrConnectionUnavailable = pipe.ErrConnectionUnavailable
	ErrRejected              = pipe.ErrRejected
	ErrProtocol              = pipe.ErrProtocol
	ErrEndpointInUse         = pipe.ErrEndpointInUse
	ErrClosed                = transport.ErrClosed
	ErrAlreadyStarted        = transport.ErrAlreadyStarted
	ErrAlreadyHandled        = delivery.ErrAlreadyHandled
	ErrHandlerPanicked       = delivery.ErrHandlerPanicked
	ErrMalformedEnvelope     = envelope.ErrMalformedEnvelope
	ErrInvalidPriority       = envelope.ErrInvalidPriority
	ErrReservedHeader        = envelope.ErrReservedHeader
	ErrDecoding              = payload.ErrDecoding

	ErrConfigRequired     = errspkg.ErrConfigRequired
	ErrLoggerRequired     = errspkg.ErrLoggerRequired
	ErrHandlerRequired    = errspkg.ErrHandlerRequired
	ErrEnvelopeRequired   = errspkg.ErrEnvelopeRequired
	ErrTopicRequired      = errspkg.ErrTopicRequired
	ErrPublisherRequired  = errspkg.ErrPublisherRequired
	ErrSubscriberRequired = errspkg.ErrSubscriberRequired
	ErrFactoryClosed      = errspkg.ErrFactoryClosed
)
