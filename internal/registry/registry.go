// Package registry stores the tools, resources and prompts an acceptor exposes and
// dispatches calls to their handlers.
// file: internal/registry/registry.go
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/dkoosis/framelink/internal/logging"
	mcperrors "github.com/dkoosis/framelink/internal/mcp/mcp_errors"
	mcptypes "github.com/dkoosis/framelink/internal/mcp_types"
	"github.com/dkoosis/framelink/internal/schema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolHandler executes a tool. args is never nil.
type ToolHandler func(ctx context.Context, args map[string]interface{}) (*mcptypes.CallToolResult, error)

// ResourceHandler reads a resource.
type ResourceHandler func(ctx context.Context, uri string) (*mcptypes.ReadResourceResult, error)

// PromptHandler renders a prompt. args is never nil.
type PromptHandler func(ctx context.Context, args map[string]interface{}) (*mcptypes.GetPromptResult, error)

// ToolDefinition is a tool keyed by Name.
type ToolDefinition struct {
	Name        string
	Description string
	// InputSchema, when set, is a JSON Schema the call arguments must satisfy.
	InputSchema json.RawMessage
	Handler     ToolHandler
}

// ResourceDefinition is a resource keyed by URI.
type ResourceDefinition struct {
	URI         string
	Name        string
	Description string
	MimeType    string
	Handler     ResourceHandler
}

// PromptDefinition is a prompt keyed by Name.
type PromptDefinition struct {
	Name        string
	Description string
	Arguments   []mcptypes.PromptArgument
	Handler     PromptHandler
}

type toolEntry struct {
	def        ToolDefinition
	schema     *jsonschema.Schema
	compileErr error
}

// Registry holds three independent keyed stores. Adding an existing key replaces it.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]toolEntry
	resources map[string]ResourceDefinition
	prompts   map[string]PromptDefinition
	logger    logging.Logger
}

// New returns an empty Registry.
func New(logger logging.Logger) *Registry {
	return &Registry{
		tools:     make(map[string]toolEntry),
		resources: make(map[string]ResourceDefinition),
		prompts:   make(map[string]PromptDefinition),
		logger:    logging.OrNoop(logger).WithField("component", "registry"),
	}
}

func (r *Registry) checkName(kind schema.EntityType, key string) {
	if err := schema.ValidateName(kind, key); err != nil {
		r.logger.Warn("Registered key does not follow naming conventions.", "kind", kind, "key", key, "error", err)
	}
}

// AddTool inserts or replaces def. A schema that fails to compile is kept as an error
// returned by every call to the tool.
func (r *Registry) AddTool(def ToolDefinition) {
	r.checkName(schema.EntityTypeTool, def.Name)
	entry := toolEntry{def: def}
	entry.schema, entry.compileErr = schema.Compile("tool-"+def.Name, def.InputSchema)
	if entry.compileErr != nil {
		r.logger.Warn("Tool input schema failed to compile.", "tool", def.Name, "error", entry.compileErr)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		r.logger.Debug("Replacing tool.", "tool", def.Name)
	}
	r.tools[def.Name] = entry
}

// RemoveTool deletes name and reports whether it existed.
func (r *Registry) RemoveTool(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tools[name]
	delete(r.tools, name)
	return ok
}

// ListTools returns tool metadata sorted by name.
func (r *Registry) ListTools() []mcptypes.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcptypes.Tool, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, mcptypes.Tool{Name: e.def.Name, Description: e.def.Description, InputSchema: e.def.InputSchema})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HasTools reports whether any tool is registered.
func (r *Registry) HasTools() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools) > 0
}

// CallTool validates args and invokes the tool. Handler errors and panics are returned
// as HandlerError; a missing tool is NotFound.
func (r *Registry) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcptypes.CallToolResult, error) {
	r.mu.RLock()
	entry, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, mcperrors.NewNotFoundError("tool", name)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	if entry.compileErr != nil {
		return nil, mcperrors.NewHandlerError(fmt.Sprintf("tool '%s' has an invalid input schema", name),
			entry.compileErr, map[string]interface{}{"tool": name})
	}
	if err := schema.ValidateValue(entry.schema, args); err != nil {
		return nil, mcperrors.NewHandlerError(fmt.Sprintf("invalid arguments for tool '%s'", name),
			err, map[string]interface{}{"tool": name})
	}
	if entry.def.Handler == nil {
		return nil, mcperrors.NewHandlerError(fmt.Sprintf("tool '%s' has no handler", name), nil, nil)
	}

	res, err := invoke("tool", name, func() (*mcptypes.CallToolResult, error) {
		return entry.def.Handler(ctx, args)
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &mcptypes.CallToolResult{Content: []mcptypes.Content{}}
	}
	if res.Content == nil {
		res.Content = []mcptypes.Content{}
	}
	return res, nil
}

// AddResource inserts or replaces def.
func (r *Registry) AddResource(def ResourceDefinition) {
	r.checkName(schema.EntityTypeResource, def.URI)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources[def.URI] = def
}

// RemoveResource deletes uri and reports whether it existed.
func (r *Registry) RemoveResource(uri string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.resources[uri]
	delete(r.resources, uri)
	return ok
}

// ListResources returns resource metadata sorted by uri.
func (r *Registry) ListResources() []mcptypes.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcptypes.Resource, 0, len(r.resources))
	for _, d := range r.resources {
		out = append(out, mcptypes.Resource{URI: d.URI, Name: d.Name, Description: d.Description, MimeType: d.MimeType})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// HasResources reports whether any resource is registered.
func (r *Registry) HasResources() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.resources) > 0
}

// ReadResource invokes the resource's handler.
func (r *Registry) ReadResource(ctx context.Context, uri string) (*mcptypes.ReadResourceResult, error) {
	r.mu.RLock()
	def, ok := r.resources[uri]
	r.mu.RUnlock()
	if !ok {
		return nil, mcperrors.NewNotFoundError("resource", uri)
	}
	if def.Handler == nil {
		return nil, mcperrors.NewHandlerError(fmt.Sprintf("resource '%s' has no handler", uri), nil, nil)
	}
	res, err := invoke("resource", uri, func() (*mcptypes.ReadResourceResult, error) {
		return def.Handler(ctx, uri)
	})
	if err != nil {
		return nil, err
	}
	if res == nil || res.Contents == nil {
		res = &mcptypes.ReadResourceResult{Contents: []mcptypes.ResourceContents{}}
	}
	return res, nil
}

// AddPrompt inserts or replaces def.
func (r *Registry) AddPrompt(def PromptDefinition) {
	r.checkName(schema.EntityTypePrompt, def.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts[def.Name] = def
}

// RemovePrompt deletes name and reports whether it existed.
func (r *Registry) RemovePrompt(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.prompts[name]
	delete(r.prompts, name)
	return ok
}

// ListPrompts returns prompt metadata sorted by name.
func (r *Registry) ListPrompts() []mcptypes.Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcptypes.Prompt, 0, len(r.prompts))
	for _, d := range r.prompts {
		out = append(out, mcptypes.Prompt{Name: d.Name, Description: d.Description, Arguments: d.Arguments})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HasPrompts reports whether any prompt is registered.
func (r *Registry) HasPrompts() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.prompts) > 0
}

// GetPrompt checks required arguments and invokes the prompt's handler.
func (r *Registry) GetPrompt(ctx context.Context, name string, args map[string]interface{}) (*mcptypes.GetPromptResult, error) {
	r.mu.RLock()
	def, ok := r.prompts[name]
	r.mu.RUnlock()
	if !ok {
		return nil, mcperrors.NewNotFoundError("prompt", name)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	for _, a := range def.Arguments {
		if _, present := args[a.Name]; a.Required && !present {
			return nil, mcperrors.NewHandlerError(
				fmt.Sprintf("prompt '%s' requires argument '%s'", name, a.Name), nil,
				map[string]interface{}{"prompt": name, "argument": a.Name})
		}
	}
	if def.Handler == nil {
		return nil, mcperrors.NewHandlerError(fmt.Sprintf("prompt '%s' has no handler", name), nil, nil)
	}
	res, err := invoke("prompt", name, func() (*mcptypes.GetPromptResult, error) {
		return def.Handler(ctx, args)
	})
	if err != nil {
		return nil, err
	}
	if res == nil || res.Messages == nil {
		desc := def.Description
		if res != nil {
			desc = res.Description
		}
		res = &mcptypes.GetPromptResult{Description: desc, Messages: []mcptypes.PromptMessage{}}
	}
	return res, nil
}

// invoke runs fn, converting a returned error or a panic into a HandlerError.
func invoke[T any](kind, key string, fn func() (T, error)) (res T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			var zero T
			res = zero
			err = mcperrors.NewHandlerError(fmt.Sprintf("%s '%s' panicked: %v", kind, key, rec), nil,
				map[string]interface{}{kind: key})
		}
	}()
	res, err = fn()
	if err != nil {
		var zero T
		return zero, mcperrors.NewHandlerError(fmt.Sprintf("%s '%s' failed", kind, key), err,
			map[string]interface{}{kind: key})
	}
	return res, nil
}
