// Package payload derives consistent string and binary views of a message
// body, however it travelled: as text or as bytes, compressed or not.
//
// A payload flagged binary is rendered as base64 in its string view; a text
// payload is UTF-8. Compressed payloads are gzip streams, base64 encoded when
// they had to travel as text. Views are computed lazily, at most once, and
// decoding problems surface as a *DecodingError on first access.
package payload

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
)

// MaxDecompressedSize caps the size of an inflated payload.
var MaxDecompressedSize int64 = 64 << 20

// ErrDecoding matches every *DecodingError.
var ErrDecoding = errors.New("payload: decoding failed")

// DecodingError reports which view could not be derived and why.
type DecodingError struct {
	View string
	Err  error
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("payload: cannot derive %s view: %v", e.View, e.Err)
}

func (e *DecodingError) Unwrap() error { return e.Err }

func (e *DecodingError) Is(target error) bool { return target == ErrDecoding }

// Payload holds one raw representation and memoizes the derived views.
type Payload struct {
	rawText    string
	rawBytes   []byte
	fromText   bool
	binary     bool
	compressed bool

	bytesOnce sync.Once
	bytesView []byte
	bytesErr  error

	textOnce sync.Once
	textView string
	textErr  error
}

// FromString wraps a payload that arrived as text.
func FromString(raw string, binary, compressed bool) *Payload {
	return &Payload{rawText: raw, fromText: true, binary: binary, compressed: compressed}
}

// FromBytes wraps a payload that arrived as bytes. The slice is not copied.
func FromBytes(raw []byte, binary, compressed bool) *Payload {
	return &Payload{rawBytes: raw, binary: binary, compressed: compressed}
}

// IsBinary reports whether the payload is treated as binary.
func (p *Payload) IsBinary() bool { return p.binary }

// IsCompressed reports whether the raw representation is compressed.
func (p *Payload) IsCompressed() bool { return p.compressed }

// Bytes returns the binary view. Callers must not modify the result.
func (p *Payload) Bytes() ([]byte, error) {
	p.bytesOnce.Do(func() {
		p.bytesView, p.bytesErr = p.deriveBytes()
		if p.bytesErr != nil {
			p.bytesErr = &DecodingError{View: "binary", Err: p.bytesErr}
		}
	})
	return p.bytesView, p.bytesErr
}

// String returns the string view.
func (p *Payload) String() (string, error) {
	p.textOnce.Do(func() {
		p.textView, p.textErr = p.deriveText()
	})
	return p.textView, p.textErr
}

func (p *Payload) deriveBytes() ([]byte, error) {
	raw := p.rawBytes
	if p.fromText {
		switch {
		case p.compressed || p.binary:
			decoded, err := base64.StdEncoding.DecodeString(p.rawText)
			if err != nil {
				return nil, fmt.Errorf("base64: %w", err)
			}
			raw = decoded
		default:
			return []byte(p.rawText), nil
		}
	}
	if p.compressed {
		return Decompress(raw)
	}
	return raw, nil
}

func (p *Payload) deriveText() (string, error) {
	if p.fromText && !p.binary && !p.compressed {
		return p.rawText, nil
	}
	data, err := p.Bytes()
	if err != nil {
		return "", err
	}
	if p.binary {
		return base64.StdEncoding.EncodeToString(data), nil
	}
	if !utf8.Valid(data) {
		return "", &DecodingError{View: "string", Err: errors.New("invalid UTF-8")}
	}
	return string(data), nil
}

// Compress gzips data.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress inflates a gzip stream produced by Compress.
func Decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, MaxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	if int64(len(out)) > MaxDecompressedSize {
		return nil, fmt.Errorf("gzip: inflated payload exceeds %d bytes", MaxDecompressedSize)
	}
	return out, nil
}
