// file: internal/transport/transport_errors.go
package transport

import (
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
)

// ErrorCode defines specific numeric codes for transport-layer errors.
type ErrorCode int

// Defined error codes for the transport layer.
const (
	ErrGeneric ErrorCode = iota + 1000
	// ErrMessageTooLarge signifies a payload exceeded MaxMessageSize.
	ErrMessageTooLarge
	// ErrTransportClosed indicates an operation was attempted on a closed channel.
	ErrTransportClosed
	// ErrTargetUnresolved indicates Start could not find the remote context.
	ErrTargetUnresolved
	// ErrDeliveryFailed indicates the host primitive failed or refused a send.
	ErrDeliveryFailed
	// ErrInvalidState indicates a lifecycle call made in the wrong channel state.
	ErrInvalidState
)

// ErrorType categorizes transport errors for higher-level handling or filtering.
type ErrorType int

// Defined error types for transport errors.
const (
	ErrorTypeGeneric ErrorType = iota
	ErrorTypeMessageSize
	ErrorTypeClosed
	ErrorTypeTarget
	ErrorTypeDelivery
)

// Error represents a transport-level error with a type, code, cause and context.
type Error struct {
	Type    ErrorType
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}

	// Size and MaxSize are set for message size errors.
	Size    int
	MaxSize int
}

// Error implements the error interface.
func (e *Error) Error() string {
	base := fmt.Sprintf("TransportError [%d] %s", e.Code, e.Message)
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", base, e.Cause)
	}
	return base
}

// Unwrap returns the underlying cause of the error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds or updates a key-value pair in the error's context map.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Is matches another *Error with the same Type and Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// NewError creates a transport error with a generic type.
func NewError(code ErrorCode, message string, cause error) *Error {
	var wrappedCause error
	if cause != nil {
		wrappedCause = errors.WithStack(cause)
	}
	return &Error{
		Type:    ErrorTypeGeneric,
		Code:    code,
		Message: message,
		Cause:   wrappedCause,
	}
}

// NewMessageSizeError reports a payload larger than maxSize.
func NewMessageSizeError(size, maxSize int) *Error {
	err := NewError(ErrMessageTooLarge,
		fmt.Sprintf("message size %d exceeds maximum allowed size %d", size, maxSize), nil)
	err.Type = ErrorTypeMessageSize
	err.Size = size
	err.MaxSize = maxSize
	return err
}

// NewClosedError reports an operation attempted on a closed channel.
func NewClosedError(operation string) *Error {
	err := NewError(ErrTransportClosed, fmt.Sprintf("cannot perform %s on closed channel", operation), nil)
	err.Type = ErrorTypeClosed
	return err.WithContext("operation", operation)
}

// NewTargetError reports that Start could not resolve the remote context.
func NewTargetError(message string, cause error) *Error {
	err := NewError(ErrTargetUnresolved, message, cause)
	err.Type = ErrorTypeTarget
	return err
}

// NewDeliveryError reports a failed post. ackError is the remote's negative
// acknowledgement text, empty when the post itself failed.
func NewDeliveryError(ackError string, cause error) *Error {
	msg := "message delivery failed"
	if ackError != "" {
		msg = fmt.Sprintf("message not received: %s", ackError)
	}
	err := NewError(ErrDeliveryFailed, msg, cause)
	err.Type = ErrorTypeDelivery
	if ackError != "" {
		err = err.WithContext("ackError", ackError)
	}
	return err
}

// IsClosedError reports whether err signals a closed channel.
func IsClosedError(err error) bool {
	var transportErr *Error
	if errors.As(err, &transportErr) {
		return transportErr.Type == ErrorTypeClosed
	}
	return errors.Is(err, io.EOF)
}

// AckError returns the negative-ack text carried by a delivery error, if any.
func AckError(err error) (string, bool) {
	var transportErr *Error
	if !errors.As(err, &transportErr) || transportErr.Type != ErrorTypeDelivery {
		return "", false
	}
	s, ok := transportErr.Context["ackError"].(string)
	return s, ok
}
