package envelope

import (
	"errors"
	"fmt"
	"reflect"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/pipeflow/internal/jsoncodec"
)

var protoJSONMarshalOptions = protojson.MarshalOptions{
	EmitUnpopulated: true,
}

// ErrPayloadRequired is returned when a typed constructor receives nil.
var ErrPayloadRequired = errors.New("envelope: payload is required")

// NewJSON marshals v as JSON into a text envelope and records its Go type in
// the HeaderMessageType header.
func NewJSON(v any, opts ...Option) (*Envelope, error) {
	if isNil(v) {
		return nil, ErrPayloadRequired
	}
	body, err := jsoncodec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal JSON payload: %w", err)
	}
	return NewText(string(body), typeHeader(v, opts)...)
}

// NewProto marshals msg with the protobuf wire format into a binary envelope.
func NewProto(msg proto.Message, opts ...Option) (*Envelope, error) {
	if isNil(msg) {
		return nil, ErrPayloadRequired
	}
	body, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal proto payload: %w", err)
	}
	return NewBinary(body, protoTypeHeader(msg, opts)...)
}

// NewProtoJSON renders msg with protojson into a text envelope.
func NewProtoJSON(msg proto.Message, opts ...Option) (*Envelope, error) {
	if isNil(msg) {
		return nil, ErrPayloadRequired
	}
	body, err := protoJSONMarshalOptions.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal proto payload: %w", err)
	}
	return NewText(string(body), protoTypeHeader(msg, opts)...)
}

// UnmarshalJSON decodes the text view of e into v.
func UnmarshalJSON(e *Envelope, v any) error {
	body, err := e.Bytes()
	if err != nil {
		return err
	}
	return jsoncodec.Unmarshal(body, v)
}

// UnmarshalProto decodes e into msg. Binary payloads use the protobuf wire
// format, text payloads are read as protojson.
func UnmarshalProto(e *Envelope, msg proto.Message) error {
	body, err := e.Bytes()
	if err != nil {
		return err
	}
	if e.IsBinary() {
		return proto.Unmarshal(body, msg)
	}
	return protojson.Unmarshal(body, msg)
}

// The type header goes first so explicit caller options can override it.
func typeHeader(v any, opts []Option) []Option {
	return append([]Option{WithHeader(HeaderMessageType, fmt.Sprintf("%T", v))}, opts...)
}

func protoTypeHeader(msg proto.Message, opts []Option) []Option {
	name := string(msg.ProtoReflect().Descriptor().FullName())
	return append([]Option{WithHeader(HeaderMessageType, name)}, opts...)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	val := reflect.ValueOf(v)
	switch val.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}
