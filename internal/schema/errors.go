// file: internal/schema/errors.go
package schema

import (
	"bytes"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrorCode defines validation error codes.
type ErrorCode int

// Defined validation error codes.
const (
	ErrSchemaNotFound ErrorCode = iota + 1000
	ErrSchemaCompileFailed
	ErrValidationFailed
	ErrInvalidJSONFormat
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Code    ErrorCode
	Message string
	Cause   error
	// SchemaPath is the keyword location that failed, e.g. "/anyOf/0/required".
	SchemaPath string
	// InstancePath is the location in the validated document, e.g. "/params/name".
	InstancePath string
	Context      map[string]interface{}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	base := e.Message
	if e.InstancePath != "" {
		base += fmt.Sprintf(" (at %s)", e.InstancePath)
	}
	if e.Cause != nil {
		base += fmt.Sprintf(": %v", e.Cause)
	}
	return base
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the validation error.
func (e *ValidationError) WithContext(key string, value interface{}) *ValidationError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewValidationError creates a new ValidationError.
func NewValidationError(code ErrorCode, message string, cause error) *ValidationError {
	return &ValidationError{
		Code:    code,
		Message: message,
		Cause:   errors.WithStack(cause),
	}
}

// convertValidationError flattens a jsonschema.ValidationError into a ValidationError,
// taking paths from the most specific leaf cause.
func convertValidationError(valErr *jsonschema.ValidationError, schemaName string, data []byte) *ValidationError {
	leaf := valErr
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}

	out := &ValidationError{
		Code:         ErrValidationFailed,
		Message:      leaf.Message,
		SchemaPath:   leaf.KeywordLocation,
		InstancePath: leaf.InstanceLocation,
	}
	out.WithContext("schema", schemaName)
	if data != nil {
		out.WithContext("dataPreview", preview(data))
	}
	return out
}

// preview returns at most 100 bytes of data with control characters masked.
func preview(data []byte) string {
	const maxPreviewLen = 100
	suffix := ""
	if len(data) > maxPreviewLen {
		data = data[:maxPreviewLen]
		suffix = "..."
	}
	masked := bytes.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return '.'
		}
		return r
	}, data)
	return string(masked) + suffix
}
