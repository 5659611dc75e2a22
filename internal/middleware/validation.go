// file: internal/middleware/validation.go
package middleware

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkoosis/framelink/internal/jsonrpc"
	"github.com/dkoosis/framelink/internal/logging"
	mcperrors "github.com/dkoosis/framelink/internal/mcp/mcp_errors"
	mcptypes "github.com/dkoosis/framelink/internal/mcp_types"
)

// envelopePeek reads just enough of a message to classify it.
type envelopePeek struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

func (p envelopePeek) isRequest() bool {
	m := jsonrpc.Message{ID: p.ID, Method: p.Method}
	return m.IsRequest()
}

// ValidationMiddleware checks inbound messages against the envelope schema and the
// per-method params definitions, and optionally checks the replies produced downstream.
type ValidationMiddleware struct {
	validator mcptypes.ValidatorInterface
	options   mcptypes.ValidationOptions
	logger    logging.Logger
}

// NewValidationMiddleware creates the middleware. A nil validator disables validation.
func NewValidationMiddleware(validator mcptypes.ValidatorInterface, options mcptypes.ValidationOptions, logger logging.Logger) *ValidationMiddleware {
	if validator == nil {
		options.Enabled = false
	}
	return &ValidationMiddleware{
		validator: validator,
		options:   options,
		logger:    logging.OrNoop(logger).WithField("middleware", "validation"),
	}
}

// Func adapts the middleware for use in a Chain.
func (m *ValidationMiddleware) Func() mcptypes.MiddlewareFunc {
	return func(next mcptypes.MessageHandler) mcptypes.MessageHandler {
		return func(ctx context.Context, message []byte) ([]byte, error) {
			return m.handle(ctx, message, next)
		}
	}
}

func (m *ValidationMiddleware) handle(ctx context.Context, message []byte, next mcptypes.MessageHandler) ([]byte, error) {
	if !m.options.Enabled {
		return next(ctx, message)
	}

	var peek envelopePeek
	if err := json.Unmarshal(message, &peek); err != nil {
		m.logger.Warn("Invalid JSON received.", "error", err)
		return encode(jsonrpc.NewErrorResponse(json.RawMessage("null"), int(mcperrors.CodeParseError), "Parse error"))
	}

	if err := m.validator.ValidateEnvelope(ctx, message); err != nil {
		if reply, handled := m.reject(peek, mcperrors.CodeInvalidRequest, "Invalid request", err); handled {
			return reply, nil
		}
	} else if peek.Method != "" && !m.options.SkipTypes[peek.Method] {
		if err := m.validator.ValidateParams(ctx, peek.Method, peek.Params); err != nil {
			if reply, handled := m.reject(peek, mcperrors.CodeInvalidParams, "Invalid params", err); handled {
				return reply, nil
			}
		}
	}

	reply, err := next(ctx, message)
	if err != nil || reply == nil || !m.options.ValidateOutgoing {
		return reply, err
	}
	if vErr := m.validator.ValidateEnvelope(ctx, reply); vErr != nil {
		m.logger.Error("Outgoing message failed validation.", "method", peek.Method, "error", vErr)
		if m.options.StrictOutgoing {
			return encode(jsonrpc.NewErrorResponse(peek.ID, int(mcperrors.CodeInternalError),
				"Internal error: invalid response generated"))
		}
	}
	return reply, nil
}

// reject decides the fate of an invalid message. Requests get an error response in
// strict mode; notifications and responses are dropped. handled is false when the
// message should continue down the chain.
func (m *ValidationMiddleware) reject(peek envelopePeek, code mcperrors.ErrorCode, label string, cause error) (reply []byte, handled bool) {
	m.logger.Warn("Inbound message failed validation.", "method", peek.Method, "code", code, "error", cause)
	if !m.options.StrictMode {
		return nil, false
	}
	if !peek.isRequest() {
		return nil, true
	}
	reply, err := encode(jsonrpc.NewErrorResponse(peek.ID, int(code), fmt.Sprintf("%s: %v", label, cause)))
	if err != nil {
		m.logger.Error("Failed to encode validation error response.", "error", err)
		return nil, true
	}
	return reply, true
}

func encode(msg *jsonrpc.Message) ([]byte, error) {
	return jsonrpc.Encode(msg)
}
