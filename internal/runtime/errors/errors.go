package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrStopped           = sterrors.New("cmdflow: client in stopped state")
	ErrTimeout           = sterrors.New("cmdflow: operation timed out")
	ErrForcedTermination = sterrors.New("cmdflow: dispatcher did not exit in time and was abandoned")
	ErrDispatcherRunning = sterrors.New("cmdflow: dispatcher already started")
	ErrEngineRequired    = sterrors.New("cmdflow: protocol engine is required")
	ErrStateRequired     = sterrors.New("cmdflow: connection state machine is required")
	ErrNilRequest        = sterrors.New("cmdflow: request is required")
	ErrConfigRequired    = sterrors.New("cmdflow: configuration is required")
	ErrLoggerRequired    = sterrors.New("cmdflow: logger is required")
	ErrTopicRequired     = sterrors.New("cmdflow: destination topic is required")
	ErrMessageRequired   = sterrors.New("cmdflow: message is required")
)

// NetworkError marks a failure caused by the connection to the server. The
// dispatcher absorbs it and retries the request once the connection recovers.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "cmdflow: network error: " + errString(e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// NewNetworkError wraps err as a retryable network failure.
func NewNetworkError(err error) error {
	if err == nil {
		return nil
	}
	return &NetworkError{Err: err}
}

// ProtocolStateError reports that the protocol engine lost track of message
// sequencing. It is a signal to reconcile, not necessarily fatal.
type ProtocolStateError struct {
	Err error
}

func (e *ProtocolStateError) Error() string {
	return "cmdflow: protocol state error: " + errString(e.Err)
}

func (e *ProtocolStateError) Unwrap() error { return e.Err }

// ValidationError carries the broker's description of a rejected message.
type ValidationError struct {
	Description string
}

func (e *ValidationError) Error() string {
	return "cmdflow: " + e.Description
}

// InternalError reports an unexpected engine state. It is never retried.
type InternalError struct {
	Message string
	Err     error
}

func (e *InternalError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return "cmdflow: " + e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return "cmdflow: " + e.Message
	default:
		return "cmdflow: internal error: " + errString(e.Err)
	}
}

func (e *InternalError) Unwrap() error { return e.Err }

// NewInternalError builds an InternalError with a formatted message.
func NewInternalError(format string, args ...any) error {
	return &InternalError{Message: fmt.Sprintf(format, args...)}
}

// WrapInternal wraps err as an InternalError unless it already belongs to the
// caller-visible taxonomy, in which case it is returned unchanged.
func WrapInternal(err error) error {
	if err == nil || IsTyped(err) {
		return err
	}
	return &InternalError{Err: err}
}

// TimeoutError reports that a request exceeded its deadline.
type TimeoutError struct {
	Message string
}

func (e *TimeoutError) Error() string {
	if e.Message == "" {
		return ErrTimeout.Error()
	}
	return "cmdflow: " + e.Message
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// StoppedError is returned to callers once the client has stopped.
type StoppedError struct {
	Message string
}

func (e *StoppedError) Error() string {
	if e.Message == "" {
		return ErrStopped.Error()
	}
	return "cmdflow: " + e.Message
}

func (e *StoppedError) Is(target error) bool { return target == ErrStopped }

// SecurityError reports an authentication or authorisation failure raised by
// the remote side.
type SecurityError struct {
	Err error
}

func (e *SecurityError) Error() string {
	return "cmdflow: security error: " + errString(e.Err)
}

func (e *SecurityError) Unwrap() error { return e.Err }

// SubscribedError is returned when subscribing to a destination twice.
type SubscribedError struct {
	Topic string
}

func (e *SubscribedError) Error() string {
	return fmt.Sprintf("cmdflow: already subscribed to %q", e.Topic)
}

// UnsubscribedError is returned when acting on a destination that has no
// active subscription.
type UnsubscribedError struct {
	Topic string
}

func (e *UnsubscribedError) Error() string {
	return fmt.Sprintf("cmdflow: not subscribed to %q", e.Topic)
}

// UnsupportedError is returned for options the client does not support.
type UnsupportedError struct {
	Option string
}

func (e *UnsupportedError) Error() string {
	return "cmdflow: unsupported option: " + e.Option
}

// IsRetryable reports whether err should trigger an in-place retry.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	return sterrors.As(err, &netErr)
}

// IsProtocolState reports whether err is a ProtocolStateError.
func IsProtocolState(err error) bool {
	var stateErr *ProtocolStateError
	return sterrors.As(err, &stateErr)
}

// IsTyped reports whether err already belongs to the caller-visible taxonomy.
func IsTyped(err error) bool {
	var (
		validation   *ValidationError
		internal     *InternalError
		timeout      *TimeoutError
		stopped      *StoppedError
		security     *SecurityError
		subscribed   *SubscribedError
		unsubscribed *UnsubscribedError
		unsupported  *UnsupportedError
	)
	return sterrors.As(err, &validation) ||
		sterrors.As(err, &internal) ||
		sterrors.As(err, &timeout) ||
		sterrors.As(err, &stopped) ||
		sterrors.As(err, &security) ||
		sterrors.As(err, &subscribed) ||
		sterrors.As(err, &unsubscribed) ||
		sterrors.As(err, &unsupported)
}

// ConfigValidationError wraps configuration problems detected at startup.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "cmdflow: invalid configuration: " + errString(e.Err)
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError wraps err, returning nil for a nil input.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}
