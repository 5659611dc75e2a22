// file: internal/mcp_types/interfaces.go
package mcptypes

import (
	"context"
	"encoding/json"
)

// MessageHandler processes one inbound message and returns the encoded reply, or nil
// when no reply is due (notifications and responses).
type MessageHandler func(ctx context.Context, message []byte) ([]byte, error)

// MiddlewareFunc wraps a MessageHandler with additional behaviour such as validation.
type MiddlewareFunc func(handler MessageHandler) MessageHandler

// Chain composes middleware around a final MessageHandler.
type Chain interface {
	// Use adds a middleware. The first middleware added runs outermost.
	Use(middleware MiddlewareFunc) Chain
	// Handler returns the composed handler.
	Handler() MessageHandler
}

// ValidationOptions configures the validation middleware.
type ValidationOptions struct {
	// Enabled turns validation on. When false the middleware is a pass-through.
	Enabled bool
	// StrictMode answers invalid requests with an error response instead of passing
	// them on after logging.
	StrictMode bool
	// ValidateOutgoing also validates replies produced by the wrapped handler.
	ValidateOutgoing bool
	// StrictOutgoing replaces invalid replies with an internal error response.
	StrictOutgoing bool
	// SkipTypes lists methods whose inbound validation is skipped.
	SkipTypes map[string]bool
}

// DefaultValidationOptions returns strict inbound validation without outgoing checks.
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{Enabled: true, StrictMode: true}
}

// ValidatorInterface is the subset of the schema validator the middleware needs.
type ValidatorInterface interface {
	ValidateEnvelope(ctx context.Context, data []byte) error
	ValidateParams(ctx context.Context, method string, params json.RawMessage) error
}
