// Package envelope defines the unit every pipeflow transport moves around:
// a payload, its headers, a format marker, a compression flag and an optional
// priority. Envelopes are immutable once built.
package envelope

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/drblury/pipeflow/headers"
	"github.com/drblury/pipeflow/internal/ids"
	"github.com/drblury/pipeflow/payload"
)

// Format tells the receiving side how to treat the payload bytes.
type Format string

const (
	FormatText   Format = "text"
	FormatBinary Format = "binary"
)

// Priority bounds. Priority is carried, never interpreted by transports.
const (
	MinPriority = 0
	MaxPriority = 9
)

// HeaderMessageType names the Go or protobuf type a payload was built from.
const HeaderMessageType = "pipeflow_message_type"

var (
	ErrInvalidPriority   = errors.New("envelope: priority out of range")
	ErrInvalidFormat     = errors.New("envelope: unknown payload format")
	ErrMalformedEnvelope = errors.New("envelope: malformed envelope")
	// ErrReservedHeader is returned for caller headers that use the
	// pipeflow_ prefix kept for envelope attributes.
	ErrReservedHeader = errors.New("envelope: reserved header key")
)

// Envelope is an immutable message ready to be serialized.
type Envelope struct {
	id          string
	createdAt   time.Time
	text        string
	data        []byte
	textOnWire  bool
	format      Format
	compressed  bool
	priority    int
	hasPriority bool
	headers     headers.Dictionary

	payloadOnce sync.Once
	payload     *payload.Payload
}

// Option customises an envelope while it is being built.
type Option func(*builder) error

type builder struct {
	id          string
	headers     map[string]any
	priority    int
	hasPriority bool
	compress    bool
}

// WithHeader sets a single header. Later options overwrite earlier ones.
func WithHeader(key string, value any) Option {
	return func(b *builder) error {
		b.headers[key] = value
		return nil
	}
}

// WithHeaders copies every entry of hdrs into the header map.
func WithHeaders(hdrs map[string]any) Option {
	return func(b *builder) error {
		maps.Copy(b.headers, hdrs)
		return nil
	}
}

// WithPriority attaches a priority between MinPriority and MaxPriority.
func WithPriority(priority int) Option {
	return func(b *builder) error {
		if priority < MinPriority || priority > MaxPriority {
			return fmt.Errorf("%w: %d", ErrInvalidPriority, priority)
		}
		b.priority = priority
		b.hasPriority = true
		return nil
	}
}

// WithCompression gzips the payload before it is transmitted.
func WithCompression(enabled bool) Option {
	return func(b *builder) error {
		b.compress = enabled
		return nil
	}
}

// WithID overrides the generated message id.
func WithID(id string) Option {
	return func(b *builder) error {
		if id == "" {
			return errors.New("envelope: id cannot be empty")
		}
		b.id = id
		return nil
	}
}

// NewText builds an envelope around a UTF-8 body.
func NewText(body string, opts ...Option) (*Envelope, error) {
	return build(FormatText, body, nil, opts)
}

// NewBinary builds an envelope around raw bytes. The slice is copied.
func NewBinary(body []byte, opts ...Option) (*Envelope, error) {
	return build(FormatBinary, "", append([]byte(nil), body...), opts)
}

func build(format Format, text string, data []byte, opts []Option) (*Envelope, error) {
	b := &builder{headers: make(map[string]any)}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(b); err != nil {
			return nil, err
		}
	}

	for key := range b.headers {
		if isReserved(key) {
			return nil, fmt.Errorf("%w: %q", ErrReservedHeader, key)
		}
	}
	hdrs, err := headers.New(b.headers)
	if err != nil {
		return nil, err
	}

	if b.id == "" {
		b.id = ids.NewMessageID()
	}

	e := &Envelope{
		id:          b.id,
		createdAt:   time.Now().UTC(),
		format:      format,
		priority:    b.priority,
		hasPriority: b.hasPriority,
		headers:     hdrs,
	}

	switch {
	case b.compress:
		raw := data
		if format == FormatText {
			raw = []byte(text)
		}
		packed, err := payload.Compress(raw)
		if err != nil {
			return nil, fmt.Errorf("envelope: compress payload: %w", err)
		}
		e.data = packed
		e.compressed = true
	case format == FormatText:
		e.text = text
		e.textOnWire = true
	default:
		e.data = data
	}
	return e, nil
}

// ID returns the message id.
func (e *Envelope) ID() string { return e.id }

// CreatedAt returns when the envelope was built by the producer.
func (e *Envelope) CreatedAt() time.Time { return e.createdAt }

// Format returns the payload format marker.
func (e *Envelope) Format() Format { return e.format }

// IsBinary reports whether the payload is binary.
func (e *Envelope) IsBinary() bool { return e.format == FormatBinary }

// Compressed reports whether the transmitted payload is gzip compressed.
func (e *Envelope) Compressed() bool { return e.compressed }

// Priority returns the priority and whether one was set.
func (e *Envelope) Priority() (int, bool) { return e.priority, e.hasPriority }

// Headers returns the read-only header view.
func (e *Envelope) Headers() headers.Dictionary { return e.headers }

// Payload returns the lazily evaluated payload pipeline for this envelope.
func (e *Envelope) Payload() *payload.Payload {
	e.payloadOnce.Do(func() {
		if e.textOnWire {
			e.payload = payload.FromString(e.text, e.IsBinary(), e.compressed)
			return
		}
		e.payload = payload.FromBytes(e.data, e.IsBinary(), e.compressed)
	})
	return e.payload
}

// String is shorthand for Payload().String().
func (e *Envelope) String() (string, error) { return e.Payload().String() }

// Bytes is shorthand for Payload().Bytes().
func (e *Envelope) Bytes() ([]byte, error) { return e.Payload().Bytes() }

// Compress returns a copy of e whose payload is gzip compressed. The id,
// headers and timestamps are kept. An already compressed envelope is
// returned as is.
func (e *Envelope) Compress() (*Envelope, error) {
	if e.compressed {
		return e, nil
	}
	packed, err := payload.Compress(e.transmitted())
	if err != nil {
		return nil, fmt.Errorf("envelope: compress payload: %w", err)
	}
	return &Envelope{
		id:          e.id,
		createdAt:   e.createdAt,
		data:        packed,
		format:      e.format,
		compressed:  true,
		priority:    e.priority,
		hasPriority: e.hasPriority,
		headers:     e.headers,
	}, nil
}

// transmitted returns the raw representation as it travels on the wire.
func (e *Envelope) transmitted() []byte {
	if e.textOnWire {
		return []byte(e.text)
	}
	return e.data
}

func parseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case "", FormatText:
		return FormatText, nil
	case FormatBinary:
		return FormatBinary, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, raw)
	}
}
