// Package jsoncodec wraps sonic so every JSON touch point in pipeflow shares
// one configuration.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

// wireConfig is used for envelopes on the wire. Numbers inside untyped header
// maps decode as json.Number and are typed by the envelope codec.
var wireConfig = sonic.Config{
	EscapeHTML:       true,
	SortMapKeys:      true,
	CompactMarshaler: true,
	CopyString:       true,
	ValidateString:   true,
	UseNumber:        true,
}.Froze()

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	enc := defaultConfig.NewEncoder(w)
	return enc.Encode(v)
}

func Decode(r io.Reader, v any) error {
	dec := defaultConfig.NewDecoder(r)
	return dec.Decode(v)
}

// EncodeWire writes v as a single JSON value using the wire configuration.
func EncodeWire(w io.Writer, v any) error {
	return wireConfig.NewEncoder(w).Encode(v)
}

// DecodeWire reads exactly one JSON value from r using the wire configuration.
func DecodeWire(r io.Reader, v any) error {
	return wireConfig.NewDecoder(r).Decode(v)
}

// UnmarshalWire is the byte-slice counterpart of DecodeWire.
func UnmarshalWire(data []byte, v any) error {
	return wireConfig.Unmarshal(data, v)
}
