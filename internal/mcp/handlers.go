// file: internal/mcp/handlers.go
package mcp

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	mcperrors "github.com/dkoosis/framelink/internal/mcp/mcp_errors"
	"github.com/dkoosis/framelink/internal/mcp/router"
	mcptypes "github.com/dkoosis/framelink/internal/mcp_types"
)

// routes is the acceptor's dispatch table. NewServer rejects a table that leaves any
// catalogue method unrouted.
func (s *Server) routes() []router.Route {
	return []router.Route{
		{Method: mcptypes.MethodInitialize, Handler: s.handleInitialize},
		{Method: mcptypes.MethodInitialized, NotificationHandler: s.handleInitialized},
		{Method: mcptypes.MethodToolsList, Handler: s.handleToolsList},
		{Method: mcptypes.MethodToolsCall, Handler: s.handleToolCall},
		{Method: mcptypes.MethodResourcesList, Handler: s.handleResourcesList},
		{Method: mcptypes.MethodResourcesRead, Handler: s.handleResourceRead},
		{Method: mcptypes.MethodPromptsList, Handler: s.handlePromptsList},
		{Method: mcptypes.MethodPromptsGet, Handler: s.handlePromptGet},
		{Method: mcptypes.MethodPing, Handler: s.handlePing},
	}
}

// decodeParams unmarshals params into v. Absent params decode as an empty object.
func decodeParams(method string, params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return mcperrors.NewInvalidParamsError(method, err)
	}
	return nil
}

func marshalResult(method string, v interface{}) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal %s result", method)
	}
	return b, nil
}

func (s *Server) capabilities() mcptypes.ServerCapabilities {
	var caps mcptypes.ServerCapabilities
	if s.registry.HasTools() {
		caps.Tools = &mcptypes.ToolsCapability{}
	}
	if s.registry.HasResources() {
		caps.Resources = &mcptypes.ResourcesCapability{}
	}
	if s.registry.HasPrompts() {
		caps.Prompts = &mcptypes.PromptsCapability{}
	}
	return caps
}

func (s *Server) handleInitialize(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
	var req mcptypes.InitializeRequest
	if err := decodeParams(mcptypes.MethodInitialize, params, &req); err != nil {
		return nil, err
	}
	s.logger.Info("Handling initialize request.",
		"clientName", req.ClientInfo.Name,
		"clientVersion", req.ClientInfo.Version,
		"clientProtocolVersion", req.ProtocolVersion)
	if req.ProtocolVersion != "" && req.ProtocolVersion != mcptypes.ProtocolVersion {
		s.logger.Warn("Protocol version mismatch, answering with ours.",
			"requested", req.ProtocolVersion, "answered", mcptypes.ProtocolVersion)
	}

	s.mu.Lock()
	s.peerInfo = req.ClientInfo
	s.mu.Unlock()

	return marshalResult(mcptypes.MethodInitialize, mcptypes.InitializeResult{
		ProtocolVersion: mcptypes.ProtocolVersion,
		ServerInfo:      s.info,
		Capabilities:    s.capabilities(),
	})
}

func (s *Server) handleInitialized(_ context.Context, _ json.RawMessage) error {
	s.logger.Info("Peer completed initialization.")
	return nil
}

func (s *Server) handlePing(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage("{}"), nil
}

func (s *Server) handleToolsList(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
	return marshalResult(mcptypes.MethodToolsList, mcptypes.ListToolsResult{Tools: s.registry.ListTools()})
}

func (s *Server) handleToolCall(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var req mcptypes.CallToolRequest
	if err := decodeParams(mcptypes.MethodToolsCall, params, &req); err != nil {
		return nil, err
	}
	res, err := s.registry.CallTool(ctx, req.Name, req.Arguments)
	if err != nil {
		return nil, err
	}
	return marshalResult(mcptypes.MethodToolsCall, res)
}

func (s *Server) handleResourcesList(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
	return marshalResult(mcptypes.MethodResourcesList, mcptypes.ListResourcesResult{Resources: s.registry.ListResources()})
}

func (s *Server) handleResourceRead(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var req mcptypes.ReadResourceRequest
	if err := decodeParams(mcptypes.MethodResourcesRead, params, &req); err != nil {
		return nil, err
	}
	res, err := s.registry.ReadResource(ctx, req.URI)
	if err != nil {
		return nil, err
	}
	return marshalResult(mcptypes.MethodResourcesRead, res)
}

func (s *Server) handlePromptsList(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
	return marshalResult(mcptypes.MethodPromptsList, mcptypes.ListPromptsResult{Prompts: s.registry.ListPrompts()})
}

func (s *Server) handlePromptGet(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var req mcptypes.GetPromptRequest
	if err := decodeParams(mcptypes.MethodPromptsGet, params, &req); err != nil {
		return nil, err
	}
	res, err := s.registry.GetPrompt(ctx, req.Name, req.Arguments)
	if err != nil {
		return nil, err
	}
	return marshalResult(mcptypes.MethodPromptsGet, res)
}
