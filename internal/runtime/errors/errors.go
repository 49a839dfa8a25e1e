package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrPriorityTaken       = sterrors.New("eventbridge: interceptor priority already taken")
	ErrModuleExists        = sterrors.New("eventbridge: module of this type already registered")
	ErrModuleNotFound      = sterrors.New("eventbridge: module is not registered")
	ErrModuleMissing       = sterrors.New("eventbridge: required module is missing")
	ErrModuleRequired      = sterrors.New("eventbridge: module is required")
	ErrConnectorRequired   = sterrors.New("eventbridge: connector is required")
	ErrConnectorExists     = sterrors.New("eventbridge: connector already added")
	ErrConnectorNotFound   = sterrors.New("eventbridge: connector is not attached")
	ErrConnectorStarted    = sterrors.New("eventbridge: connector already started")
	ErrConnectorStopped    = sterrors.New("eventbridge: connector already stopped")
	ErrConnectorNotStarted = sterrors.New("eventbridge: connector is not started")
	ErrBridgeRequired      = sterrors.New("eventbridge: bridge is required")
	ErrBridgeClosed        = sterrors.New("eventbridge: bridge is closed")
	ErrEventRequired       = sterrors.New("eventbridge: event is required")
	ErrHandlerRequired     = sterrors.New("eventbridge: handler is required")
	ErrPredicateRequired   = sterrors.New("eventbridge: predicate is required")
	ErrHandlerExists       = sterrors.New("eventbridge: handler already registered with this predicate")
	ErrUnknownEventType    = sterrors.New("eventbridge: unknown event type")
	ErrUnknownPredicate    = sterrors.New("eventbridge: unknown predicate kind")
	ErrHandshakeTimeout    = sterrors.New("eventbridge: connector handshake timed out")
	ErrPublisherRequired   = sterrors.New("eventbridge: publisher is required")
	ErrSubscriberRequired  = sterrors.New("eventbridge: subscriber is required")
	ErrCodecRequired       = sterrors.New("eventbridge: codec is required")
	ErrConfigRequired      = sterrors.New("eventbridge: configuration is required")
	ErrLoggerRequired      = sterrors.New("eventbridge: logger is required")
	ErrRemoteRequired      = sterrors.New("eventbridge: remote node name is required")
	ErrMessageTooLarge     = sterrors.New("eventbridge: encoded event exceeds the transport message size")
	ErrUnknownTransport    = sterrors.New("eventbridge: unknown transport")
)

// TransportError reports a connector that failed to deliver an event. The
// connector sender logs it and keeps delivering to the remaining connectors.
type TransportError struct {
	Connector any
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("eventbridge: connector %T failed to send: %v", e.Connector, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HandlerPanicError carries a panic recovered from an event handler.
type HandlerPanicError struct {
	Value any
	Stack []byte
}

func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("eventbridge: handler panicked: %v", e.Value)
}

// ConfigValidationError wraps the joined errors returned by Config.Validate.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "eventbridge: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
