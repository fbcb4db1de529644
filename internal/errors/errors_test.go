package errors

import (
	"errors"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrConfigRequired", ErrConfigRequired, "pipeflow: configuration is required"},
		{"ErrLoggerRequired", ErrLoggerRequired, "pipeflow: logger is required"},
		{"ErrHandlerRequired", ErrHandlerRequired, "pipeflow: handler function is required"},
		{"ErrTopicRequired", ErrTopicRequired, "pipeflow: topic is required"},
		{"ErrEnvelopeRequired", ErrEnvelopeRequired, "pipeflow: envelope is required"},
		{"ErrPublisherRequired", ErrPublisherRequired, "pipeflow: publisher is required"},
		{"ErrSubscriberRequired", ErrSubscriberRequired, "pipeflow: subscriber is required"},
		{"ErrFactoryClosed", ErrFactoryClosed, "pipeflow: factory is closed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestConfigValidationError(t *testing.T) {
	inner := errors.New("invalid port")
	err := ConfigValidationError{Err: inner}

	want := "pipeflow: invalid configuration: invalid port"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if unwrapped := err.Unwrap(); unwrapped != inner {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, inner)
	}
}

func TestNewConfigValidationError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if err := NewConfigValidationError(nil); err != nil {
			t.Errorf("NewConfigValidationError(nil) = %v, want nil", err)
		}
	})

	t.Run("wraps error correctly", func(t *testing.T) {
		inner := errors.New("bad config")
		err := NewConfigValidationError(inner)

		var cfgErr ConfigValidationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected ConfigValidationError, got %T", err)
		}
		if !errors.Is(err, inner) {
			t.Error("errors.Is should match wrapped error")
		}
	})
}
