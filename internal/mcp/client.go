// file: internal/mcp/client.go
package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/framelink/internal/correlator"
	"github.com/dkoosis/framelink/internal/fsm"
	"github.com/dkoosis/framelink/internal/jsonrpc"
	"github.com/dkoosis/framelink/internal/logging"
	"github.com/dkoosis/framelink/internal/metrics"
	mcperrors "github.com/dkoosis/framelink/internal/mcp/mcp_errors"
	"github.com/dkoosis/framelink/internal/mcp/state"
	mcptypes "github.com/dkoosis/framelink/internal/mcp_types"
	"github.com/dkoosis/framelink/internal/transport"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	// Info is sent as clientInfo during initialize.
	Info mcptypes.Implementation
	// Channel is used to build a fresh Initiator on every Connect. Its Logger defaults to
	// the Client's.
	Channel transport.InitiatorConfig
	// RequestTimeout bounds every call. Zero means the correlator default.
	RequestTimeout time.Duration
	// OnNotification, when set, receives notifications sent by the peer. Calls run one at
	// a time in arrival order on a goroutine of their own, so the callback may issue
	// requests on the Client.
	OnNotification func(ctx context.Context, method string, params json.RawMessage)
	Metrics        *metrics.Collector
	Logger         logging.Logger
}

// connectAttempt is the outcome shared by every caller that joins one Connect. It
// belongs to the generation it started in; a Disconnect cancels it.
type connectAttempt struct {
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
	result     *mcptypes.InitializeResult
	err        error
}

// Client is the initiator-side protocol engine.
type Client struct {
	opts       ClientOptions
	logger     logging.Logger
	correlator *correlator.Correlator
	machine    *state.ConnectionMachine

	mu          sync.Mutex
	channel     *transport.Initiator
	unsubscribe func()
	attempt     *connectAttempt
	initResult  *mcptypes.InitializeResult
	// generation increments on Disconnect so a connect that raced it can tell.
	generation uint64

	notifications dispatchQueue
}

// NewClient builds a disconnected Client.
func NewClient(opts ClientOptions) (*Client, error) {
	logger := logging.OrNoop(opts.Logger).WithField("component", "mcp_client")
	machine, err := state.NewConnectionMachine(logger)
	if err != nil {
		return nil, err
	}
	if opts.Channel.Logger == nil {
		opts.Channel.Logger = logger
	}
	c := &Client{opts: opts, logger: logger, machine: machine}
	c.correlator = correlator.New(correlator.SenderFunc(c.send),
		correlator.WithTimeout(opts.RequestTimeout),
		correlator.WithLogger(logger))
	return c, nil
}

// State returns the connection state.
func (c *Client) State() fsm.State {
	return c.machine.CurrentState()
}

// ServerInfo returns the peer's implementation info, or false before the first
// successful Connect.
func (c *Client) ServerInfo() (mcptypes.Implementation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initResult == nil {
		return mcptypes.Implementation{}, false
	}
	return c.initResult.ServerInfo, true
}

// ServerCapabilities returns the capabilities announced by the peer.
func (c *Client) ServerCapabilities() (mcptypes.ServerCapabilities, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initResult == nil {
		return mcptypes.ServerCapabilities{}, false
	}
	return c.initResult.Capabilities, true
}

// Connect performs the handshake. A connected Client returns the cached result; callers
// arriving while a connect is in flight share its outcome. Failures leave the Client in
// the error state and are returned as ConnectionError. An attempt interrupted by
// Disconnect fails with a ConnectionError wrapping CancelledError and never blocks a
// later Connect.
func (c *Client) Connect(ctx context.Context) (*mcptypes.InitializeResult, error) {
	c.mu.Lock()
	if c.machine.Is(state.StateConnected) && c.initResult != nil {
		res := c.initResult
		c.mu.Unlock()
		return res, nil
	}
	if a := c.attempt; a != nil && a.generation == c.generation {
		c.mu.Unlock()
		select {
		case <-a.done:
			return a.result, a.err
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "abandoned wait for connect")
		}
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	a := &connectAttempt{generation: c.generation, cancel: cancel, done: make(chan struct{})}
	c.attempt = a
	c.machine.Fire(context.Background(), state.EventConnect)
	c.mu.Unlock()

	a.result, a.err = c.connect(attemptCtx, a.generation)

	c.mu.Lock()
	if c.attempt == a {
		c.attempt = nil
	}
	c.mu.Unlock()
	close(a.done)
	return a.result, a.err
}

func (c *Client) connect(ctx context.Context, generation uint64) (*mcptypes.InitializeResult, error) {
	ch, err := transport.NewInitiator(c.opts.Channel, c)
	if err != nil {
		return nil, c.fail(ch, generation, err)
	}

	c.mu.Lock()
	if c.generation != generation {
		c.mu.Unlock()
		return nil, c.fail(ch, generation, mcperrors.NewCancelledError("disconnected during connect"))
	}
	c.channel = ch
	c.mu.Unlock()

	unsubscribe, err := ch.Start(ctx)
	if err != nil {
		return nil, c.fail(ch, generation, err)
	}
	if !c.current(generation) {
		unsubscribe()
		return nil, c.fail(ch, generation, mcperrors.NewCancelledError("disconnected during connect"))
	}

	raw, err := c.correlator.Request(ctx, mcptypes.MethodInitialize, mcptypes.InitializeRequest{
		ProtocolVersion: mcptypes.ProtocolVersion,
		ClientInfo:      c.opts.Info,
		Capabilities:    mcptypes.ClientCapabilities{},
	})
	c.opts.Metrics.RecordOutbound(errors.Is(err, mcperrors.ErrRequestTimeout), err)
	if err != nil {
		return nil, c.fail(ch, generation, err)
	}
	var res mcptypes.InitializeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, c.fail(ch, generation, errors.Wrap(err, "invalid initialize result"))
	}

	c.mu.Lock()
	if c.generation != generation {
		c.mu.Unlock()
		unsubscribe()
		return nil, c.fail(ch, generation, mcperrors.NewCancelledError("disconnected during connect"))
	}
	c.initResult = &res
	c.unsubscribe = unsubscribe
	c.machine.Fire(context.Background(), state.EventConnected)
	c.mu.Unlock()

	if err := c.correlator.Notify(ctx, mcptypes.MethodInitialized, nil); err != nil {
		return nil, c.fail(ch, generation, err)
	}

	c.logger.Info("Connected.", "server", res.ServerInfo.Name, "version", res.ServerInfo.Version,
		"protocolVersion", res.ProtocolVersion)
	return &res, nil
}

func (c *Client) current(generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == generation
}

// fail closes ch and moves to the error state unless a Disconnect already reset the
// Client, in which case the cause becomes a CancelledError. It returns the cause as a
// ConnectionError.
func (c *Client) fail(ch *transport.Initiator, generation uint64, cause error) error {
	if ch != nil {
		_ = ch.Close()
	}
	c.opts.Metrics.RecordConnectionFailure()

	c.mu.Lock()
	if c.generation == generation {
		if c.channel == ch {
			c.channel = nil
		}
		c.initResult = nil
		c.machine.Fire(context.Background(), state.EventFail)
	} else if !errors.Is(cause, mcperrors.ErrCancelled) {
		cause = mcperrors.NewCancelledError("disconnected during connect")
	}
	c.mu.Unlock()

	c.logger.Warn("Connect failed.", "error", cause)
	return mcperrors.NewConnectionError("failed to connect", cause)
}

// Disconnect closes the channel, cancels every pending call and moves to disconnected.
// Idempotent.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.generation++
	if a := c.attempt; a != nil {
		a.cancel()
		c.attempt = nil
	}
	ch := c.channel
	unsubscribe := c.unsubscribe
	c.channel = nil
	c.unsubscribe = nil
	c.initResult = nil
	c.machine.Fire(context.Background(), state.EventDisconnect)
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if ch != nil {
		_ = ch.Close()
	}
	if n := c.correlator.CancelAll(mcperrors.NewCancelledError("disconnected")); n > 0 {
		c.logger.Info("Cancelled pending requests on disconnect.", "count", n)
	}
	return nil
}

func (c *Client) send(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return mcperrors.NewTransportNotStartedError("send")
	}
	return ch.Send(ctx, payload)
}

// Request calls method on the connected peer and returns the raw result.
func (c *Client) Request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if !c.machine.Is(state.StateConnected) {
		return nil, mcperrors.NewTransportNotStartedError(method)
	}
	res, err := c.correlator.Request(ctx, method, params)
	c.opts.Metrics.RecordOutbound(errors.Is(err, mcperrors.ErrRequestTimeout), err)
	return res, err
}

// Notify sends a notification to the connected peer.
func (c *Client) Notify(ctx context.Context, method string, params interface{}) error {
	if !c.machine.Is(state.StateConnected) {
		return mcperrors.NewTransportNotStartedError(method)
	}
	return c.correlator.Notify(ctx, method, params)
}

func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	raw, err := c.Request(ctx, method, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(err, "invalid %s result", method)
	}
	return nil
}

// ListTools returns the peer's tools.
func (c *Client) ListTools(ctx context.Context) ([]mcptypes.Tool, error) {
	var res mcptypes.ListToolsResult
	if err := c.call(ctx, mcptypes.MethodToolsList, nil, &res); err != nil {
		return nil, err
	}
	return res.Tools, nil
}

// CallTool invokes a tool on the peer.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcptypes.CallToolResult, error) {
	var res mcptypes.CallToolResult
	if err := c.call(ctx, mcptypes.MethodToolsCall, mcptypes.CallToolRequest{Name: name, Arguments: args}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListResources returns the peer's resources.
func (c *Client) ListResources(ctx context.Context) ([]mcptypes.Resource, error) {
	var res mcptypes.ListResourcesResult
	if err := c.call(ctx, mcptypes.MethodResourcesList, nil, &res); err != nil {
		return nil, err
	}
	return res.Resources, nil
}

// ReadResource reads a resource from the peer.
func (c *Client) ReadResource(ctx context.Context, uri string) (*mcptypes.ReadResourceResult, error) {
	var res mcptypes.ReadResourceResult
	if err := c.call(ctx, mcptypes.MethodResourcesRead, mcptypes.ReadResourceRequest{URI: uri}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListPrompts returns the peer's prompts.
func (c *Client) ListPrompts(ctx context.Context) ([]mcptypes.Prompt, error) {
	var res mcptypes.ListPromptsResult
	if err := c.call(ctx, mcptypes.MethodPromptsList, nil, &res); err != nil {
		return nil, err
	}
	return res.Prompts, nil
}

// GetPrompt renders a prompt on the peer.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]interface{}) (*mcptypes.GetPromptResult, error) {
	var res mcptypes.GetPromptResult
	if err := c.call(ctx, mcptypes.MethodPromptsGet, mcptypes.GetPromptRequest{Name: name, Arguments: args}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Ping checks that the peer is answering.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Request(ctx, mcptypes.MethodPing, nil)
	return err
}

// OnMessage resolves responses, queues notifications for OnNotification and answers
// peer-initiated requests with method not found, since the Client exposes no
// capabilities of its own.
func (c *Client) OnMessage(ctx context.Context, payload []byte) {
	msg, err := jsonrpc.Decode(payload)
	if err != nil {
		c.logger.Debug("Dropping malformed message.", "error", err)
		return
	}
	switch {
	case msg.IsResponse():
		c.correlator.HandleResponse(msg)
	case msg.IsNotification():
		if handler := c.opts.OnNotification; handler != nil {
			ctx := context.WithoutCancel(ctx)
			method, params := msg.Method, msg.Params
			c.notifications.push(func() { handler(ctx, method, params) })
		}
	case msg.IsRequest():
		id := msg.ID
		method := msg.Method
		go func() {
			code, message := mcperrors.ToJSONRPC(mcperrors.NewMethodNotFoundError(method))
			reply, err := jsonrpc.Encode(jsonrpc.NewErrorResponse(id, code, message))
			if err == nil {
				err = c.send(context.Background(), reply)
			}
			if err != nil {
				c.logger.Debug("Failed to answer peer request.", "method", method, "error", err)
			}
		}()
	}
}

// OnError logs a delivery failure.
func (c *Client) OnError(err error) {
	c.logger.Warn("Channel delivery failed.", "error", err)
	c.opts.Metrics.RecordDeliveryFailure()
}

// OnReject records a message refused by the origin allow-list.
func (c *Client) OnReject(origin string) {
	c.opts.Metrics.RecordRejectedOrigin(origin)
}

// OnClose logs the channel closing.
func (c *Client) OnClose() {
	c.logger.Debug("Client channel closed.")
}
