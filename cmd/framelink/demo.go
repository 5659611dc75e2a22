// file: cmd/framelink/demo.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"

	"github.com/dkoosis/framelink/internal/logging"
	mcptypes "github.com/dkoosis/framelink/internal/mcp_types"
	"github.com/dkoosis/framelink/internal/registry"
)

// demoRegistry holds the capabilities served by "framelink serve".
func demoRegistry(logger logging.Logger) *registry.Registry {
	reg := registry.New(logger)

	reg.AddTool(registry.ToolDefinition{
		Name:        "echo",
		Description: "Returns its text argument.",
		InputSchema: json.RawMessage(`{"type":"object","required":["text"],"properties":{"text":{"type":"string"}}}`),
		Handler: func(_ context.Context, args map[string]interface{}) (*mcptypes.CallToolResult, error) {
			text, _ := args["text"].(string)
			return mcptypes.TextResult(text), nil
		},
	})

	reg.AddTool(registry.ToolDefinition{
		Name:        "divide",
		Description: "Divides a by b.",
		InputSchema: json.RawMessage(`{"type":"object","required":["a","b"],"properties":{"a":{"type":"number"},"b":{"type":"number"}}}`),
		Handler: func(_ context.Context, args map[string]interface{}) (*mcptypes.CallToolResult, error) {
			a, _ := args["a"].(float64)
			b, _ := args["b"].(float64)
			if b == 0 {
				return mcptypes.ErrorResult("division by zero"), nil
			}
			out, err := json.Marshal(a / b)
			if err != nil {
				return nil, err
			}
			return mcptypes.TextResult(string(out)), nil
		},
	})

	reg.AddResource(registry.ResourceDefinition{
		URI:         "about://info",
		Name:        "Server info",
		Description: "Build and runtime details of this server.",
		MimeType:    "text/plain",
		Handler: func(_ context.Context, uri string) (*mcptypes.ReadResourceResult, error) {
			text := fmt.Sprintf("framelink %s (%s), %s", version, buildCommit, runtime.Version())
			return &mcptypes.ReadResourceResult{
				Contents: []mcptypes.ResourceContents{{URI: uri, MimeType: "text/plain", Text: text}},
			}, nil
		},
	})

	reg.AddPrompt(registry.PromptDefinition{
		Name:        "greeting",
		Description: "Greets someone by name.",
		Arguments:   []mcptypes.PromptArgument{{Name: "name", Description: "Who to greet", Required: true}},
		Handler: func(_ context.Context, args map[string]interface{}) (*mcptypes.GetPromptResult, error) {
			name, _ := args["name"].(string)
			if strings.TrimSpace(name) == "" {
				name = "there"
			}
			return &mcptypes.GetPromptResult{
				Description: "A friendly greeting.",
				Messages: []mcptypes.PromptMessage{
					{Role: "user", Content: mcptypes.TextContent("Say hello to " + name + ".")},
				},
			}, nil
		},
	})

	return reg
}
