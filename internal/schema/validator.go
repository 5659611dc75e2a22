// Package schema validates JSON-RPC envelopes, method params and tool arguments against
// JSON Schema (draft 2020-12).
// file: internal/schema/validator.go
package schema

import (
	"bytes"
	"context"
	_ "embed" // Required for go:embed.
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/framelink/internal/logging"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed envelope.schema.json
var envelopeSchema []byte

const envelopeURL = "https://framelink.local/schema/envelope.json"

// Names of the compiled definitions.
const (
	Envelope           = "JSONRPCMessage"
	Request            = "JSONRPCRequest"
	Notification       = "JSONRPCNotification"
	Response           = "JSONRPCResponse"
	ErrorResponse      = "JSONRPCError"
	CallToolParams     = "CallToolParams"
	ReadResourceParams = "ReadResourceParams"
	GetPromptParams    = "GetPromptParams"
	InitializeParams   = "InitializeParams"
)

var definitions = []string{
	Request, Notification, Response, ErrorResponse,
	CallToolParams, ReadResourceParams, GetPromptParams, InitializeParams,
}

// methodParams maps a method to the definition its params must satisfy.
var methodParams = map[string]string{
	"initialize":     InitializeParams,
	"tools/call":     CallToolParams,
	"resources/read": ReadResourceParams,
	"prompts/get":    GetPromptParams,
}

// ValidatorInterface defines the methods needed for schema validation.
type ValidatorInterface interface {
	Validate(ctx context.Context, schemaName string, data []byte) error
	ValidateEnvelope(ctx context.Context, data []byte) error
	ValidateParams(ctx context.Context, method string, params json.RawMessage) error
	HasSchema(name string) bool
}

// Validator holds the compiled envelope definitions.
type Validator struct {
	mu              sync.RWMutex
	schemas         map[string]*jsonschema.Schema
	logger          logging.Logger
	compileDuration time.Duration
}

var _ ValidatorInterface = (*Validator)(nil)

// NewValidator compiles the embedded envelope schema.
func NewValidator(logger logging.Logger) (*Validator, error) {
	logger = logging.OrNoop(logger).WithField("component", "schema_validator")

	start := time.Now()
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(envelopeURL, bytes.NewReader(envelopeSchema)); err != nil {
		return nil, NewValidationError(ErrSchemaCompileFailed, "Failed to add envelope schema resource", err)
	}

	schemas := make(map[string]*jsonschema.Schema, len(definitions)+1)
	root, err := compiler.Compile(envelopeURL)
	if err != nil {
		return nil, NewValidationError(ErrSchemaCompileFailed, "Failed to compile envelope schema", err)
	}
	schemas[Envelope] = root
	for _, name := range definitions {
		s, err := compiler.Compile(envelopeURL + "#/$defs/" + name)
		if err != nil {
			return nil, NewValidationError(ErrSchemaCompileFailed,
				fmt.Sprintf("Failed to compile definition %s", name), err)
		}
		schemas[name] = s
	}

	v := &Validator{
		schemas:         schemas,
		logger:          logger,
		compileDuration: time.Since(start),
	}
	logger.Debug("Envelope schema compiled.", "definitions", len(schemas), "duration", v.compileDuration)
	return v, nil
}

// Validate checks data against the named definition.
func (v *Validator) Validate(_ context.Context, schemaName string, data []byte) error {
	v.mu.RLock()
	s, ok := v.schemas[schemaName]
	v.mu.RUnlock()
	if !ok {
		return NewValidationError(ErrSchemaNotFound,
			fmt.Sprintf("Schema definition not found: %s", schemaName), nil).
			WithContext("availableSchemas", v.names())
	}

	var instance interface{}
	if err := json.Unmarshal(data, &instance); err != nil {
		return NewValidationError(ErrInvalidJSONFormat, "Invalid JSON format", errors.Wrap(err, "json.Unmarshal failed")).
			WithContext("schema", schemaName).
			WithContext("dataPreview", preview(data))
	}

	if err := s.Validate(instance); err != nil {
		var valErr *jsonschema.ValidationError
		if errors.As(err, &valErr) {
			v.logger.Debug("Schema validation failed.", "schema", schemaName, "error", valErr.Message)
			return convertValidationError(valErr, schemaName, data)
		}
		return NewValidationError(ErrValidationFailed, "Schema validation failed with unexpected error", err).
			WithContext("schema", schemaName)
	}
	return nil
}

// ValidateEnvelope checks that data is a well-formed request, notification or response.
func (v *Validator) ValidateEnvelope(ctx context.Context, data []byte) error {
	return v.Validate(ctx, Envelope, data)
}

// ValidateParams checks params for methods that declare a params definition. Methods
// without one always pass.
func (v *Validator) ValidateParams(ctx context.Context, method string, params json.RawMessage) error {
	name, ok := methodParams[method]
	if !ok {
		return nil
	}
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	return v.Validate(ctx, name, params)
}

// HasSchema reports whether a definition with the given name was compiled.
func (v *Validator) HasSchema(name string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.schemas[name]
	return ok
}

// CompileDuration reports how long NewValidator spent compiling.
func (v *Validator) CompileDuration() time.Duration {
	return v.compileDuration
}

func (v *Validator) names() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	keys := make([]string, 0, len(v.schemas))
	for k := range v.schemas {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Compile compiles a standalone schema document, such as a tool's inputSchema. An empty
// document yields a nil schema, which ValidateValue treats as accept-all.
func Compile(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	url := "https://framelink.local/schema/" + sanitizeName(name) + ".json"
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, NewValidationError(ErrSchemaCompileFailed, "Failed to add schema resource", err).
			WithContext("schema", name)
	}
	s, err := compiler.Compile(url)
	if err != nil {
		return nil, NewValidationError(ErrSchemaCompileFailed, "Failed to compile schema", err).
			WithContext("schema", name)
	}
	return s, nil
}

// ValidateValue validates an already-decoded value against s. A nil schema accepts
// everything.
func ValidateValue(s *jsonschema.Schema, value interface{}) error {
	if s == nil {
		return nil
	}
	// Round-trip through JSON so typed Go values validate the same as decoded ones.
	data, err := json.Marshal(value)
	if err != nil {
		return NewValidationError(ErrInvalidJSONFormat, "Value is not JSON-encodable", err)
	}
	var instance interface{}
	if err := json.Unmarshal(data, &instance); err != nil {
		return NewValidationError(ErrInvalidJSONFormat, "Invalid JSON format", err)
	}
	if err := s.Validate(instance); err != nil {
		var valErr *jsonschema.ValidationError
		if errors.As(err, &valErr) {
			return convertValidationError(valErr, s.Location, nil)
		}
		return NewValidationError(ErrValidationFailed, "Schema validation failed with unexpected error", err)
	}
	return nil
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}
