package envelope

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/pipeflow/headers"
)

// Reserved Watermill metadata keys used to carry envelope attributes across
// transports that only know about bytes and string metadata.
const (
	MetadataFormat     = "pipeflow_format"
	MetadataCompressed = "pipeflow_compressed"
	MetadataPriority   = "pipeflow_priority"
	MetadataCreatedAt  = "pipeflow_created_at"
)

const reservedPrefix = "pipeflow_"

// ToWatermill converts e into a Watermill message. The transmitted
// representation becomes the message payload unchanged.
func ToWatermill(e *Envelope) *message.Message {
	msg := message.NewMessage(e.id, append([]byte(nil), e.transmitted()...))
	msg.Metadata = headers.ToWatermill(e.headers)
	msg.Metadata.Set(MetadataFormat, string(e.format))
	msg.Metadata.Set(MetadataCreatedAt, e.createdAt.Format(time.RFC3339Nano))
	if e.compressed {
		msg.Metadata.Set(MetadataCompressed, "true")
	}
	if e.hasPriority {
		msg.Metadata.Set(MetadataPriority, strconv.Itoa(e.priority))
	}
	return msg
}

// FromWatermill rebuilds an envelope from a Watermill message. Reserved
// metadata keys are stripped from the resulting headers; every other value
// comes back as a string.
func FromWatermill(msg *message.Message) (*Envelope, error) {
	format, err := parseFormat(msg.Metadata.Get(MetadataFormat))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}

	e := &Envelope{
		id:      msg.UUID,
		format:  format,
		headers: headers.FromWatermill(msg.Metadata, isReserved),
	}

	if raw := msg.Metadata.Get(MetadataCreatedAt); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: created_at: %w", ErrMalformedEnvelope, err)
		}
		e.createdAt = ts
	}

	if raw := msg.Metadata.Get(MetadataCompressed); raw != "" {
		compressed, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: compressed: %w", ErrMalformedEnvelope, err)
		}
		e.compressed = compressed
	}

	if raw := msg.Metadata.Get(MetadataPriority); raw != "" {
		priority, err := strconv.Atoi(raw)
		if err != nil || priority < MinPriority || priority > MaxPriority {
			return nil, fmt.Errorf("%w: %w: %q", ErrMalformedEnvelope, ErrInvalidPriority, raw)
		}
		e.priority = priority
		e.hasPriority = true
	}

	if format == FormatText && !e.compressed {
		e.text = string(msg.Payload)
		e.textOnWire = true
	} else {
		e.data = append([]byte(nil), msg.Payload...)
	}
	return e, nil
}

func isReserved(key string) bool {
	return strings.HasPrefix(key, reservedPrefix) && key != HeaderMessageType
}
