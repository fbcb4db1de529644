package envelope

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/drblury/pipeflow/headers"
	"github.com/drblury/pipeflow/internal/jsoncodec"
)

// wireEnvelope is the JSON document written on the pipe. JSON objects are
// self-delimiting, so a reader consumes exactly one envelope without a
// length prefix. Exactly one of Text and Data is populated.
type wireEnvelope struct {
	ID         string         `json:"id"`
	CreatedAt  time.Time      `json:"created_at"`
	Format     string         `json:"format"`
	Compressed bool           `json:"compressed,omitempty"`
	Priority   *int           `json:"priority,omitempty"`
	Text       *string        `json:"text,omitempty"`
	Data       []byte         `json:"data,omitempty"`
	Headers    map[string]any `json:"headers,omitempty"`
}

type flusher interface {
	Flush() error
}

// Encode writes e to w as one JSON document. It returns once the document
// has been handed to w, flushing w when it buffers.
func Encode(w io.Writer, e *Envelope) error {
	if e == nil {
		return errors.New("envelope: nil envelope")
	}

	wire := wireEnvelope{
		ID:         e.id,
		CreatedAt:  e.createdAt,
		Format:     string(e.format),
		Compressed: e.compressed,
		Headers:    wireHeaders(e.headers.Map()),
	}
	if e.hasPriority {
		p := e.priority
		wire.Priority = &p
	}
	if e.textOnWire {
		text := e.text
		wire.Text = &text
	} else {
		wire.Data = e.data
	}

	if err := jsoncodec.EncodeWire(w, wire); err != nil {
		return err
	}
	if f, ok := w.(flusher); ok {
		return f.Flush()
	}
	return nil
}

// Decode reads exactly one envelope from r. A stream that ends before the
// first non-whitespace byte yields (nil, nil): the peer connected and left
// without sending anything. Anything else that is not a valid envelope is
// reported as ErrMalformedEnvelope.
func Decode(r io.Reader) (*Envelope, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}

	empty, err := skipWhitespace(br)
	if err != nil {
		return nil, err
	}
	if empty {
		return nil, nil
	}

	var wire wireEnvelope
	if err := jsoncodec.DecodeWire(br, &wire); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	return fromWire(wire)
}

// Unmarshal decodes a single envelope held in memory.
func Unmarshal(data []byte) (*Envelope, error) {
	var wire wireEnvelope
	if err := jsoncodec.UnmarshalWire(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	return fromWire(wire)
}

func skipWhitespace(br *bufio.Reader) (bool, error) {
	for {
		b, err := br.ReadByte()
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return false, br.UnreadByte()
	}
}

func fromWire(wire wireEnvelope) (*Envelope, error) {
	format, err := parseFormat(wire.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}

	values, err := headerValues(wire.Headers)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	hdrs, err := headers.New(values)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}

	e := &Envelope{
		id:         wire.ID,
		createdAt:  wire.CreatedAt,
		format:     format,
		compressed: wire.Compressed,
		headers:    hdrs,
	}
	if wire.Priority != nil {
		if *wire.Priority < MinPriority || *wire.Priority > MaxPriority {
			return nil, fmt.Errorf("%w: %w: %d", ErrMalformedEnvelope, ErrInvalidPriority, *wire.Priority)
		}
		e.priority = *wire.Priority
		e.hasPriority = true
	}

	switch {
	case wire.Text != nil && wire.Data != nil:
		return nil, fmt.Errorf("%w: both text and data present", ErrMalformedEnvelope)
	case wire.Text != nil:
		e.text = *wire.Text
		e.textOnWire = true
	default:
		e.data = wire.Data
	}
	return e, nil
}

// wireHeaders writes float headers with a fraction or exponent so the reader
// can tell them apart from integers.
func wireHeaders(values map[string]any) map[string]any {
	for key, v := range values {
		f, ok := v.(float64)
		if !ok {
			continue
		}
		lit := strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(lit, ".eE") {
			lit += ".0"
		}
		values[key] = json.Number(lit)
	}
	return values
}

// headerValues turns decoded numbers back into int64 or float64.
func headerValues(values map[string]any) (map[string]any, error) {
	for key, v := range values {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		lit := n.String()
		if strings.ContainsAny(lit, ".eE") {
			f, err := strconv.ParseFloat(lit, 64)
			if err != nil {
				return nil, fmt.Errorf("header %q: %w", key, err)
			}
			values[key] = f
			continue
		}
		i, err := strconv.ParseInt(lit, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("header %q: %w", key, err)
		}
		values[key] = i
	}
	return values, nil
}
