// Package mcperrors defines the error taxonomy of the protocol engine and its mapping to
// JSON-RPC error objects.
// file: internal/mcp/mcp_errors/errors.go
package mcperrors

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrorCode identifies an error category. Negative values are JSON-RPC wire codes; values
// from 1000 up are local-only and never sent to a peer.
type ErrorCode int

// JSON-RPC wire codes.
const (
	CodeParseError     ErrorCode = -32700
	CodeInvalidRequest ErrorCode = -32600
	CodeMethodNotFound ErrorCode = -32601
	CodeInvalidParams  ErrorCode = -32602
	CodeInternalError  ErrorCode = -32603
	// CodeHandlerError is used for every failure inside a tool/resource/prompt dispatch.
	CodeHandlerError ErrorCode = -32000
)

// Local-only codes.
const (
	CodeTransportNotStarted ErrorCode = 1000 + iota
	CodeOriginRejected
	CodeRequestTimeout
	CodeConnectionError
	CodeNotFound
	CodeCancelled
)

// BaseError carries a code, a human-readable message, an optional cause and key/value context.
type BaseError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *BaseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *BaseError) Unwrap() error {
	return e.Cause
}

// Is matches any *BaseError (or embedding type) with the same code, so the sentinels
// below work with errors.Is.
func (e *BaseError) Is(target error) bool {
	var t *BaseError
	switch v := target.(type) {
	case *BaseError:
		t = v
	case *RemoteError:
		t = &v.BaseError
	default:
		return false
	}
	return t.Code == e.Code
}

// WithContext adds a key/value pair to the error context and returns the error for chaining.
func (e *BaseError) WithContext(key string, value interface{}) *BaseError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// RemoteError is an error object received from the peer in a JSON-RPC response.
type RemoteError struct {
	BaseError
	Data interface{}
}

// Sentinels for errors.Is checks. Never return these directly; use the constructors.
var (
	ErrTransportNotStarted = &BaseError{Code: CodeTransportNotStarted, Message: "transport not started"}
	ErrOriginRejected      = &BaseError{Code: CodeOriginRejected, Message: "origin not allowed"}
	ErrMethodNotFound      = &BaseError{Code: CodeMethodNotFound, Message: "method not found"}
	ErrHandler             = &BaseError{Code: CodeHandlerError, Message: "handler error"}
	ErrRequestTimeout      = &BaseError{Code: CodeRequestTimeout, Message: "request timed out"}
	ErrConnection          = &BaseError{Code: CodeConnectionError, Message: "connection error"}
	ErrNotFound            = &BaseError{Code: CodeNotFound, Message: "not found"}
	ErrCancelled           = &BaseError{Code: CodeCancelled, Message: "cancelled"}
	ErrInvalidRequest      = &BaseError{Code: CodeInvalidRequest, Message: "invalid request"}
	ErrInvalidParams       = &BaseError{Code: CodeInvalidParams, Message: "invalid params"}
)

func newError(code ErrorCode, message string, cause error, context map[string]interface{}) *BaseError {
	return &BaseError{
		Code:    code,
		Message: message,
		Cause:   errors.WithStack(cause),
		Context: context,
	}
}

// NewTransportNotStartedError reports an operation attempted on an inactive channel or engine.
func NewTransportNotStartedError(operation string) error {
	return newError(CodeTransportNotStarted, fmt.Sprintf("transport not started: cannot %s", operation), nil,
		map[string]interface{}{"operation": operation})
}

// NewOriginRejectedError reports a message dropped by the allow-list.
func NewOriginRejectedError(origin string) error {
	return newError(CodeOriginRejected, "Origin not allowed", nil, map[string]interface{}{"origin": origin})
}

// NewMethodNotFoundError reports an unrecognized JSON-RPC method.
func NewMethodNotFoundError(method string) error {
	return newError(CodeMethodNotFound, fmt.Sprintf("Method not found: %s", method), nil,
		map[string]interface{}{"method": method})
}

// NewHandlerError wraps a failure raised while dispatching to a capability handler.
func NewHandlerError(message string, cause error, context map[string]interface{}) error {
	return newError(CodeHandlerError, message, cause, context)
}

// NewRequestTimeoutError reports a request that received no response in time.
func NewRequestTimeoutError(method string, id int64, timeout time.Duration) error {
	return newError(CodeRequestTimeout, fmt.Sprintf("request '%s' (id %d) timed out after %s", method, id, timeout), nil,
		map[string]interface{}{"method": method, "id": id, "timeout": timeout.String()})
}

// NewConnectionError reports a handshake or transport failure during connect.
func NewConnectionError(message string, cause error) error {
	return newError(CodeConnectionError, message, cause, nil)
}

// NewNotFoundError reports a lookup miss in a capability registry.
func NewNotFoundError(kind, key string) error {
	return newError(CodeNotFound, fmt.Sprintf("%s not found: %s", kind, key), nil,
		map[string]interface{}{"kind": kind, "key": key})
}

// NewCancelledError reports a pending call abandoned by disconnect or shutdown.
func NewCancelledError(reason string) error {
	return newError(CodeCancelled, fmt.Sprintf("request cancelled: %s", reason), nil, nil)
}

// NewInvalidRequestError reports an inbound message that is not a valid JSON-RPC envelope.
func NewInvalidRequestError(message string, cause error) error {
	return newError(CodeInvalidRequest, message, cause, nil)
}

// NewInvalidParamsError reports params that could not be decoded for a method.
func NewInvalidParamsError(method string, cause error) error {
	return newError(CodeInvalidParams, fmt.Sprintf("invalid params for %s", method), cause,
		map[string]interface{}{"method": method})
}

// NewRemoteError wraps an error object received from the peer.
func NewRemoteError(code int, message string, data interface{}) error {
	return &RemoteError{
		BaseError: BaseError{Code: ErrorCode(code), Message: message},
		Data:      data,
	}
}

// CodeOf returns the code of the first BaseError in err's chain, or CodeInternalError.
func CodeOf(err error) ErrorCode {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Code
	}
	var base *BaseError
	if errors.As(err, &base) {
		return base.Code
	}
	return CodeInternalError
}

// ToJSONRPC maps an error raised while answering a request to a wire code and message.
// Method-not-found, invalid-request and invalid-params keep their standard codes; every
// other failure is reported as a handler error carrying the failure's message.
func ToJSONRPC(err error) (code int, message string) {
	if err == nil {
		return 0, ""
	}
	var base *BaseError
	if errors.As(err, &base) {
		switch base.Code {
		case CodeMethodNotFound, CodeInvalidRequest, CodeInvalidParams, CodeParseError:
			return int(base.Code), base.Message
		}
	}
	return int(CodeHandlerError), err.Error()
}
