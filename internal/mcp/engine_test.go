// file: internal/mcp/engine_test.go
package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/framelink/internal/host"
	"github.com/dkoosis/framelink/internal/jsonrpc"
	"github.com/dkoosis/framelink/internal/metrics"
	mcperrors "github.com/dkoosis/framelink/internal/mcp/mcp_errors"
	"github.com/dkoosis/framelink/internal/mcp/state"
	mcptypes "github.com/dkoosis/framelink/internal/mcp_types"
	"github.com/dkoosis/framelink/internal/registry"
	"github.com/dkoosis/framelink/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	hostOrigin   = "https://host.example"
	widgetOrigin = "https://widget.example"
)

type fixtureConfig struct {
	serverAllowed []string
	serverTimeout time.Duration
	clientTimeout time.Duration
	startDelay    time.Duration
}

// fixture wires a Server on a host page to a Client inside an embedded widget.
type fixture struct {
	hostWin   *host.MemoryWindow
	widgetWin *host.MemoryWindow
	server    *Server
	client    *Client
	metrics   *metrics.Collector
}

func newFixture(t *testing.T, reg *registry.Registry, opts ...func(*fixtureConfig)) *fixture {
	t.Helper()
	cfg := fixtureConfig{serverAllowed: []string{widgetOrigin}, startDelay: -1}
	for _, o := range opts {
		o(&cfg)
	}

	hostWin := host.NewMemoryWindow(hostOrigin, nil)
	widgetWin, frame := host.Embed(hostWin, widgetOrigin)
	collector := metrics.NewCollector(10)

	server, err := NewServer(reg, ServerOptions{
		Info:           mcptypes.Implementation{Name: "host-engine", Version: "1.0.0"},
		RequestTimeout: cfg.serverTimeout,
		Validation:     mcptypes.DefaultValidationOptions(),
		Metrics:        collector,
	})
	require.NoError(t, err)
	_, err = server.Start(context.Background(), transport.AcceptorConfig{
		Local:          hostWin,
		Frame:          frame,
		AllowedOrigins: cfg.serverAllowed,
	})
	require.NoError(t, err)

	client, err := NewClient(ClientOptions{
		Info: mcptypes.Implementation{Name: "widget-engine", Version: "0.1.0"},
		Channel: transport.InitiatorConfig{
			Local:          widgetWin,
			AllowedOrigins: []string{hostOrigin},
			StartDelay:     cfg.startDelay,
		},
		RequestTimeout: cfg.clientTimeout,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Disconnect()
		_ = server.Close()
	})
	return &fixture{hostWin: hostWin, widgetWin: widgetWin, server: server, client: client, metrics: collector}
}

func divideTool() registry.ToolDefinition {
	return registry.ToolDefinition{
		Name:        "divide",
		Description: "Divides a by b.",
		InputSchema: json.RawMessage(`{"type":"object","required":["a","b"],"properties":{"a":{"type":"number"},"b":{"type":"number"}}}`),
		Handler: func(_ context.Context, args map[string]interface{}) (*mcptypes.CallToolResult, error) {
			a, _ := args["a"].(float64)
			b, _ := args["b"].(float64)
			if b == 0 {
				return mcptypes.ErrorResult("division by zero"), nil
			}
			return mcptypes.TextResult(jsonNumber(a / b)), nil
		},
	}
}

func jsonNumber(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}

// blockingTool returns a tool that waits for release before answering. release may be
// called any number of times; it also runs on cleanup.
func blockingTool(t *testing.T) (tool registry.ToolDefinition, release func()) {
	t.Helper()
	gate := make(chan struct{})
	var once sync.Once
	release = func() { once.Do(func() { close(gate) }) }
	t.Cleanup(release)
	return registry.ToolDefinition{
		Name: "slow",
		Handler: func(context.Context, map[string]interface{}) (*mcptypes.CallToolResult, error) {
			<-gate
			return mcptypes.TextResult("finally"), nil
		},
	}, release
}

func TestEngine_CapabilityFlagsReflectRegistry(t *testing.T) {
	reg := registry.New(nil)
	reg.AddTool(divideTool())
	f := newFixture(t, reg)

	res, err := f.client.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, mcptypes.ProtocolVersion, res.ProtocolVersion)
	assert.Equal(t, "host-engine", res.ServerInfo.Name)
	assert.NotNil(t, res.Capabilities.Tools)
	assert.Nil(t, res.Capabilities.Resources)
	assert.Nil(t, res.Capabilities.Prompts)

	assert.Equal(t, state.StateConnected, f.client.State())
	info, ok := f.client.ServerInfo()
	require.True(t, ok)
	assert.Equal(t, "1.0.0", info.Version)
	caps, ok := f.client.ServerCapabilities()
	require.True(t, ok)
	assert.NotNil(t, caps.Tools)

	require.Eventually(t, f.server.PeerInitialized, time.Second, 5*time.Millisecond)
	assert.Equal(t, "widget-engine", f.server.PeerInfo().Name)
}

func TestEngine_ApplicationErrorIsStillASuccessResponse(t *testing.T) {
	reg := registry.New(nil)
	reg.AddTool(divideTool())
	f := newFixture(t, reg)

	replies := make(chan []byte, 1)
	raw, err := transport.NewInitiator(transport.InitiatorConfig{Local: f.widgetWin, StartDelay: -1},
		transport.ObserverFuncs{Message: func(_ context.Context, payload []byte) {
			replies <- append([]byte(nil), payload...)
		}})
	require.NoError(t, err)
	_, err = raw.Start(context.Background())
	require.NoError(t, err)
	defer raw.Close()

	require.NoError(t, raw.Send(context.Background(),
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"divide","arguments":{"a":10,"b":0}}}`)))

	var reply []byte
	select {
	case reply = <-replies:
	case <-time.After(time.Second):
		t.Fatal("no reply")
	}
	msg, err := jsonrpc.Decode(reply)
	require.NoError(t, err)
	assert.Nil(t, msg.Error, "application errors are not protocol faults")
	require.NotEmpty(t, msg.Result)

	var result mcptypes.CallToolResult
	require.NoError(t, json.Unmarshal(msg.Result, &result))
	assert.True(t, result.IsError)
	assert.Equal(t, "division by zero", result.Content[0].Text)
}

func TestEngine_CallTool(t *testing.T) {
	reg := registry.New(nil)
	reg.AddTool(divideTool())
	f := newFixture(t, reg)
	_, err := f.client.Connect(context.Background())
	require.NoError(t, err)

	res, err := f.client.CallTool(context.Background(), "divide", map[string]interface{}{"a": 10, "b": 4})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "2.5", res.Content[0].Text)

	tools, err := f.client.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "divide", tools[0].Name)
	assert.NotEmpty(t, tools[0].InputSchema)
}

func TestEngine_HandlerFailuresUseCode32000(t *testing.T) {
	reg := registry.New(nil)
	reg.AddTool(divideTool())
	f := newFixture(t, reg)
	_, err := f.client.Connect(context.Background())
	require.NoError(t, err)

	_, err = f.client.CallTool(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.Equal(t, mcperrors.CodeHandlerError, mcperrors.CodeOf(err))
	assert.Contains(t, err.Error(), "tool not found: missing")

	_, err = f.client.CallTool(context.Background(), "divide", map[string]interface{}{"a": "ten", "b": 1})
	require.Error(t, err)
	assert.Equal(t, mcperrors.CodeHandlerError, mcperrors.CodeOf(err))

	assert.NoError(t, f.client.Ping(context.Background()), "engine stays usable after a failed call")

	snap := f.metrics.Snapshot()
	assert.GreaterOrEqual(t, snap.FailedRequests, 2)
}

func TestEngine_UnknownMethod(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.client.Connect(context.Background())
	require.NoError(t, err)

	_, err = f.client.Request(context.Background(), "tools/frobnicate", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcperrors.ErrMethodNotFound))
	assert.Equal(t, mcperrors.CodeMethodNotFound, mcperrors.CodeOf(err))
}

func TestEngine_ResourcesAndPrompts(t *testing.T) {
	reg := registry.New(nil)
	reg.AddResource(registry.ResourceDefinition{
		URI: "about://info", Name: "About", MimeType: "text/plain",
		Handler: func(_ context.Context, uri string) (*mcptypes.ReadResourceResult, error) {
			return &mcptypes.ReadResourceResult{Contents: []mcptypes.ResourceContents{{URI: uri, Text: "framelink"}}}, nil
		},
	})
	reg.AddPrompt(registry.PromptDefinition{
		Name:      "greeting",
		Arguments: []mcptypes.PromptArgument{{Name: "name", Required: true}},
		Handler: func(_ context.Context, args map[string]interface{}) (*mcptypes.GetPromptResult, error) {
			return &mcptypes.GetPromptResult{Messages: []mcptypes.PromptMessage{
				{Role: "user", Content: mcptypes.TextContent("Hello, " + args["name"].(string) + ".")},
			}}, nil
		},
	})
	f := newFixture(t, reg)
	res, err := f.client.Connect(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res.Capabilities.Tools)
	assert.NotNil(t, res.Capabilities.Resources)
	assert.NotNil(t, res.Capabilities.Prompts)

	resources, err := f.client.ListResources(context.Background())
	require.NoError(t, err)
	require.Len(t, resources, 1)

	read, err := f.client.ReadResource(context.Background(), "about://info")
	require.NoError(t, err)
	assert.Equal(t, "framelink", read.Contents[0].Text)

	prompts, err := f.client.ListPrompts(context.Background())
	require.NoError(t, err)
	require.Len(t, prompts, 1)

	prompt, err := f.client.GetPrompt(context.Background(), "greeting", map[string]interface{}{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hello, Ada.", prompt.Messages[0].Content.Text)

	_, err = f.client.GetPrompt(context.Background(), "greeting", nil)
	assert.Equal(t, mcperrors.CodeHandlerError, mcperrors.CodeOf(err))
}

func TestEngine_DisallowedOriginNeverReachesHandlers(t *testing.T) {
	f := newFixture(t, nil, func(c *fixtureConfig) { c.serverAllowed = []string{"https://trusted.example"} })

	_, err := f.client.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcperrors.ErrConnection))
	ackErr, ok := transport.AckError(err)
	require.True(t, ok)
	assert.Equal(t, transport.OriginNotAllowed, ackErr)

	assert.Equal(t, state.StateError, f.client.State())
	assert.Equal(t, state.StateUninitialized, f.server.SessionState(), "initialize was never handled")
	assert.Equal(t, 1, f.metrics.Snapshot().RejectedOrigins[widgetOrigin])
	assert.Zero(t, f.metrics.Snapshot().TotalRequests)
}

func TestEngine_TimeoutThenLateResponseIgnored(t *testing.T) {
	reg := registry.New(nil)
	slow, release := blockingTool(t)
	reg.AddTool(slow)
	f := newFixture(t, reg, func(c *fixtureConfig) { c.clientTimeout = 50 * time.Millisecond })
	_, err := f.client.Connect(context.Background())
	require.NoError(t, err)

	_, err = f.client.CallTool(context.Background(), "slow", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcperrors.ErrRequestTimeout))
	assert.Zero(t, f.client.correlator.Pending())

	release()
	f.server.Wait()

	assert.Equal(t, state.StateConnected, f.client.State())
	assert.NoError(t, f.client.Ping(context.Background()))
}

func TestEngine_OperationsRequireConnection(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.client.ListTools(context.Background())
	assert.True(t, errors.Is(err, mcperrors.ErrTransportNotStarted))
	assert.True(t, errors.Is(f.client.Ping(context.Background()), mcperrors.ErrTransportNotStarted))
	assert.True(t, errors.Is(f.client.Notify(context.Background(), "x", nil), mcperrors.ErrTransportNotStarted))

	_, ok := f.client.ServerInfo()
	assert.False(t, ok)
}

func TestEngine_ConcurrentConnectSharesOneAttempt(t *testing.T) {
	f := newFixture(t, nil, func(c *fixtureConfig) { c.startDelay = 50 * time.Millisecond })

	const callers = 5
	results := make([]*mcptypes.InitializeResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.client.Connect(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].ServerInfo, results[i].ServerInfo)
	}
	assert.Equal(t, 1, f.metrics.Snapshot().TotalRequests, "exactly one initialize was sent")

	again, err := f.client.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, results[0].ServerInfo, again.ServerInfo)
	assert.Equal(t, 1, f.metrics.Snapshot().TotalRequests, "connected clients return the cached result")
}

func TestEngine_DisconnectDuringConnectDoesNotBlockReconnect(t *testing.T) {
	f := newFixture(t, nil, func(c *fixtureConfig) { c.startDelay = 200 * time.Millisecond })

	first := make(chan error, 1)
	go func() {
		_, err := f.client.Connect(context.Background())
		first <- err
	}()
	require.Eventually(t, func() bool { return f.client.State() == state.StateConnecting }, time.Second, time.Millisecond)

	require.NoError(t, f.client.Disconnect())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := f.client.Connect(ctx)
	require.NoError(t, err, "a fresh connect runs its own attempt")
	assert.Equal(t, "host-engine", res.ServerInfo.Name)
	assert.Equal(t, state.StateConnected, f.client.State())

	select {
	case err := <-first:
		require.Error(t, err)
		assert.True(t, errors.Is(err, mcperrors.ErrConnection))
		assert.True(t, errors.Is(err, mcperrors.ErrCancelled))
	case <-time.After(2 * time.Second):
		t.Fatal("interrupted connect never returned")
	}

	assert.Equal(t, state.StateConnected, f.client.State(), "the stale attempt leaves the new connection alone")
	require.NoError(t, f.client.Ping(context.Background()))
	assert.Equal(t, 1, f.widgetWin.ListenerCount())
}

func TestEngine_DisconnectCancelsPendingCalls(t *testing.T) {
	reg := registry.New(nil)
	slow, _ := blockingTool(t)
	reg.AddTool(slow)
	f := newFixture(t, reg)
	_, err := f.client.Connect(context.Background())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.client.CallTool(context.Background(), "slow", nil)
		done <- err
	}()
	require.Eventually(t, func() bool { return f.client.correlator.Pending() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.client.Disconnect())
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, mcperrors.ErrCancelled))
	case <-time.After(time.Second):
		t.Fatal("pending call was not cancelled")
	}
	assert.Equal(t, state.StateDisconnected, f.client.State())
	assert.NoError(t, f.client.Disconnect(), "disconnect is idempotent")
	assert.Zero(t, f.widgetWin.ListenerCount())
}

func TestEngine_ReconnectKeepsIdsIncreasing(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.client.Connect(context.Background())
	require.NoError(t, err)
	before := f.client.correlator.NextID()

	require.NoError(t, f.client.Disconnect())
	_, err = f.client.Connect(context.Background())
	require.NoError(t, err)
	assert.Greater(t, f.client.correlator.NextID(), before+1)
	assert.Equal(t, 1, f.widgetWin.ListenerCount())
}

func TestEngine_ConnectOutsideEmbeddedContextFails(t *testing.T) {
	lonely := host.NewMemoryWindow(widgetOrigin, nil)
	client, err := NewClient(ClientOptions{
		Info:    mcptypes.Implementation{Name: "widget-engine", Version: "0.1.0"},
		Channel: transport.InitiatorConfig{Local: lonely, StartDelay: -1},
	})
	require.NoError(t, err)

	_, err = client.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcperrors.ErrConnection))
	assert.Equal(t, state.StateError, client.State())

	_, err = client.Connect(context.Background())
	assert.Error(t, err, "retry from the error state runs a new attempt")
}

func TestEngine_ServerCanCallClient(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.client.Connect(context.Background())
	require.NoError(t, err)

	_, err = f.server.Request(context.Background(), mcptypes.MethodPing, nil)
	require.Error(t, err)
	assert.Equal(t, mcperrors.CodeMethodNotFound, mcperrors.CodeOf(err), "clients expose no methods")
	assert.Equal(t, 1, f.metrics.Snapshot().OutboundCalls)
}

func TestEngine_RequestsHandledInArrivalOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	reg := registry.New(nil)
	reg.AddTool(registry.ToolDefinition{
		Name: "record",
		Handler: func(_ context.Context, args map[string]interface{}) (*mcptypes.CallToolResult, error) {
			n, _ := args["n"].(float64)
			mu.Lock()
			seen = append(seen, int(n))
			mu.Unlock()
			return mcptypes.TextResult("ok"), nil
		},
	})
	f := newFixture(t, reg)
	_, err := f.client.Connect(context.Background())
	require.NoError(t, err)

	const calls = 20
	want := make([]int, calls)
	for i := 0; i < calls; i++ {
		want[i] = i
		req, err := jsonrpc.NewRequest(int64(1000+i), mcptypes.MethodToolsCall,
			mcptypes.CallToolRequest{Name: "record", Arguments: map[string]interface{}{"n": i}})
		require.NoError(t, err)
		payload, err := jsonrpc.Encode(req)
		require.NoError(t, err)
		f.server.OnMessage(context.Background(), payload)
	}
	f.server.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, seen)
}

func TestEngine_InvalidRequestRejectedBySchema(t *testing.T) {
	f := newFixture(t, nil)

	replies := make(chan []byte, 1)
	raw, err := transport.NewInitiator(transport.InitiatorConfig{Local: f.widgetWin, StartDelay: -1},
		transport.ObserverFuncs{Message: func(_ context.Context, payload []byte) {
			replies <- append([]byte(nil), payload...)
		}})
	require.NoError(t, err)
	_, err = raw.Start(context.Background())
	require.NoError(t, err)
	defer raw.Close()

	require.NoError(t, raw.Send(context.Background(), []byte(`{"jsonrpc":"2.0","id":9,"method":"resources/read","params":{}}`)))
	select {
	case reply := <-replies:
		msg, err := jsonrpc.Decode(reply)
		require.NoError(t, err)
		require.NotNil(t, msg.Error)
		assert.Equal(t, int(mcperrors.CodeInvalidParams), msg.Error.Code)
	case <-time.After(time.Second):
		t.Fatal("no reply")
	}
}
