// Package headers provides the typed, read-only view over the header map
// carried by every envelope.
//
// Header values are restricted to a few primitive kinds so that every
// transport can carry them: string, bool, int64 and float64. Integers and
// floats of other widths are widened on the way in and time.Time values are
// stored as RFC 3339 strings. Lookups convert between kinds where the
// conversion is lossless, so a header that crossed a string-only transport
// reads back the same as one that crossed the pipe.
package headers

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"time"
)

var (
	// ErrNotFound is returned when the requested key is absent.
	ErrNotFound = errors.New("headers: key not found")
	// ErrTypeMismatch is returned when a value cannot be read as the requested kind.
	ErrTypeMismatch = errors.New("headers: value has a different type")
	// ErrUnsupportedValue is returned by Normalize for values outside the allowed kinds.
	ErrUnsupportedValue = errors.New("headers: unsupported value type")
)

// Dictionary is an immutable, case-sensitive header lookup.
type Dictionary struct {
	values map[string]any
}

// New builds a Dictionary from raw values after normalizing them.
func New(raw map[string]any) (Dictionary, error) {
	values := make(map[string]any, len(raw))
	for key, value := range raw {
		normalized, err := Normalize(value)
		if err != nil {
			return Dictionary{}, fmt.Errorf("header %q: %w", key, err)
		}
		values[key] = normalized
	}
	return Dictionary{values: values}, nil
}

// FromStrings builds a Dictionary from a string map, such as transport metadata.
func FromStrings(raw map[string]string) Dictionary {
	values := make(map[string]any, len(raw))
	for key, value := range raw {
		values[key] = value
	}
	return Dictionary{values: values}
}

// Normalize widens v to one of the stored kinds.
func Normalize(v any) (any, error) {
	switch value := v.(type) {
	case string, bool, int64:
		return value, nil
	case float64:
		return finite(value)
	case int:
		return int64(value), nil
	case int8:
		return int64(value), nil
	case int16:
		return int64(value), nil
	case int32:
		return int64(value), nil
	case uint8:
		return int64(value), nil
	case uint16:
		return int64(value), nil
	case uint32:
		return int64(value), nil
	case uint:
		if uint64(value) > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, value)
		}
		return int64(value), nil
	case uint64:
		if value > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, value)
		}
		return int64(value), nil
	case float32:
		return finite(float64(value))
	case time.Time:
		return value.UTC().Format(time.RFC3339Nano), nil
	case time.Duration:
		return value.String(), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

// Len returns the number of headers.
func (d Dictionary) Len() int {
	return len(d.values)
}

// Has reports whether key is present.
func (d Dictionary) Has(key string) bool {
	_, ok := d.values[key]
	return ok
}

// Keys returns the header keys in lexical order.
func (d Dictionary) Keys() []string {
	return slices.Sorted(maps.Keys(d.values))
}

// Get returns the stored value as is.
func (d Dictionary) Get(key string) (any, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Map returns a copy of the underlying values.
func (d Dictionary) Map() map[string]any {
	return maps.Clone(d.values)
}

// Strings renders every value as a string, for string-only metadata.
func (d Dictionary) Strings() map[string]string {
	out := make(map[string]string, len(d.values))
	for key, value := range d.values {
		out[key] = format(value)
	}
	return out
}

// String reads key as a string. Non-string values are formatted.
func (d Dictionary) String(key string) (string, error) {
	v, ok := d.values[key]
	if !ok {
		return "", notFound(key)
	}
	return format(v), nil
}

// Int reads key as an int64.
func (d Dictionary) Int(key string) (int64, error) {
	v, ok := d.values[key]
	if !ok {
		return 0, notFound(key)
	}
	switch value := v.(type) {
	case int64:
		return value, nil
	case float64:
		if value == math.Trunc(value) && value >= math.MinInt64 && value < math.MaxInt64 {
			return int64(value), nil
		}
	case string:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, mismatch(key, v, "int64")
}

// Float reads key as a float64.
func (d Dictionary) Float(key string) (float64, error) {
	v, ok := d.values[key]
	if !ok {
		return 0, notFound(key)
	}
	switch value := v.(type) {
	case float64:
		return value, nil
	case int64:
		return float64(value), nil
	case string:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f, nil
		}
	}
	return 0, mismatch(key, v, "float64")
}

// Bool reads key as a bool.
func (d Dictionary) Bool(key string) (bool, error) {
	v, ok := d.values[key]
	if !ok {
		return false, notFound(key)
	}
	switch value := v.(type) {
	case bool:
		return value, nil
	case string:
		if b, err := strconv.ParseBool(value); err == nil {
			return b, nil
		}
	}
	return false, mismatch(key, v, "bool")
}

// Time reads key as an RFC 3339 timestamp.
func (d Dictionary) Time(key string) (time.Time, error) {
	v, ok := d.values[key]
	if !ok {
		return time.Time{}, notFound(key)
	}
	if s, isString := v.(string); isString {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, mismatch(key, v, "time")
}

// Duration reads key as a time.Duration string such as "1.5s".
func (d Dictionary) Duration(key string) (time.Duration, error) {
	v, ok := d.values[key]
	if !ok {
		return 0, notFound(key)
	}
	if s, isString := v.(string); isString {
		if dur, err := time.ParseDuration(s); err == nil {
			return dur, nil
		}
	}
	return 0, mismatch(key, v, "duration")
}

// StringOr returns the string value for key or fallback when it is missing.
func (d Dictionary) StringOr(key, fallback string) string {
	if s, err := d.String(key); err == nil {
		return s
	}
	return fallback
}

func finite(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, f)
	}
	return f, nil
}

func format(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case bool:
		return strconv.FormatBool(value)
	case int64:
		return strconv.FormatInt(value, 10)
	case float64:
		return strconv.FormatFloat(value, 'g', -1, 64)
	default:
		return fmt.Sprint(value)
	}
}

func notFound(key string) error {
	return fmt.Errorf("%w: %q", ErrNotFound, key)
}

func mismatch(key string, v any, want string) error {
	return fmt.Errorf("%w: %q holds %T, want %s", ErrTypeMismatch, key, v, want)
}
