package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrBrokerRequired          = sterrors.New("relay: broker is required")
	ErrBrokerShutdown          = sterrors.New("relay: broker is shut down")
	ErrHandlerRequired         = sterrors.New("relay: handler is required")
	ErrSubscriberRequired      = sterrors.New("relay: subscriber is required")
	ErrForeignSubscriber       = sterrors.New("relay: subscriber belongs to another broker")
	ErrSubscriberNameTaken     = sterrors.New("relay: subscriber name is already registered")
	ErrReservedName            = sterrors.New("relay: name is reserved")
	ErrReservedDestination     = sterrors.New("relay: destination cannot be subscribed to")
	ErrDestinationNameRequired = sterrors.New("relay: destination name is required")
	ErrRegistryExhausted       = sterrors.New("relay: destination registry is exhausted")
	ErrInvalidMode             = sterrors.New("relay: invalid delivery mode")
	ErrConfigRequired          = sterrors.New("relay: configuration is required")
	ErrLoggerRequired          = sterrors.New("relay: logger is required")
	ErrPublisherRequired       = sterrors.New("relay: publisher is required")
	ErrTopicRequired           = sterrors.New("relay: topic is required")
	ErrSourceRequired          = sterrors.New("relay: message subscriber is required")
	ErrShutdownTimeout         = sterrors.New("relay: workers did not terminate")
)

// ConfigValidationError reports an invalid broker configuration.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("relay: invalid configuration: %v", e.Err)
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
