package errors

import sterrors "errors"

var (
	ErrConfigRequired     = sterrors.New("pipeflow: configuration is required")
	ErrLoggerRequired     = sterrors.New("pipeflow: logger is required")
	ErrHandlerRequired    = sterrors.New("pipeflow: handler function is required")
	ErrTopicRequired      = sterrors.New("pipeflow: topic is required")
	ErrEnvelopeRequired   = sterrors.New("pipeflow: envelope is required")
	ErrPublisherRequired  = sterrors.New("pipeflow: publisher is required")
	ErrSubscriberRequired = sterrors.New("pipeflow: subscriber is required")
	ErrFactoryClosed      = sterrors.New("pipeflow: factory is closed")
)

// ConfigValidationError marks errors returned by Config.Validate so callers
// can tell configuration problems apart from transport failures.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "pipeflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
