// Package mcp implements the two protocol engines: Server answers remote calls from its
// capability registry and Client issues them after a handshake.
// file: internal/mcp/server.go
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
	"github.com/dkoosis/framelink/internal/mcp/router"
	"github.com/dkoosis/framelink/internal/mcp/state"
	mcptypes "github.com/dkoosis/framelink/internal/mcp_types"
	"github.com/dkoosis/framelink/internal/middleware"
	"github.com/dkoosis/framelink/internal/registry"
	"github.com/dkoosis/framelink/internal/schema"
	"github.com/dkoosis/framelink/internal/transport"
)

// ServerOptions configures a Server.
type ServerOptions struct {
	// Info is announced in the initialize result.
	Info mcptypes.Implementation
	// RequestTimeout bounds calls the Server itself issues with Request. Zero means the
	// correlator default.
	RequestTimeout time.Duration
	// Validation configures inbound envelope checks. A nil Validator with Enabled set
	// uses the built-in envelope schema.
	Validation mcptypes.ValidationOptions
	Validator  mcptypes.ValidatorInterface
	// Metrics, when set, receives request and channel counters.
	Metrics *metrics.Collector
	Logger  logging.Logger
}

// Server is the acceptor-side protocol engine.
type Server struct {
	info       mcptypes.Implementation
	registry   *registry.Registry
	router     router.Router
	correlator *correlator.Correlator
	session    *state.SessionMachine
	pipeline   mcptypes.MessageHandler
	metrics    *metrics.Collector
	logger     logging.Logger

	mu       sync.RWMutex
	channel  transport.Channel
	peerInfo mcptypes.Implementation

	inflight sync.WaitGroup
	queue    dispatchQueue
}

var (
	_ transport.Observer       = (*Server)(nil)
	_ transport.RejectObserver = (*Server)(nil)
)

// NewServer builds a Server answering from reg. A nil reg gets an empty registry.
func NewServer(reg *registry.Registry, opts ServerOptions) (*Server, error) {
	logger := logging.OrNoop(opts.Logger).WithField("component", "mcp_server")
	if reg == nil {
		reg = registry.New(opts.Logger)
	}

	session, err := state.NewSessionMachine(logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		info:     opts.Info,
		registry: reg,
		router:   router.NewRouter(logger),
		session:  session,
		metrics:  opts.Metrics,
		logger:   logger,
	}
	s.correlator = correlator.New(correlator.SenderFunc(s.send),
		correlator.WithTimeout(opts.RequestTimeout),
		correlator.WithLogger(logger))

	for _, route := range s.routes() {
		if err := s.router.AddRoute(route); err != nil {
			return nil, errors.Wrap(err, "failed to build dispatch table")
		}
	}
	if err := s.router.Require(mcptypes.Methods...); err != nil {
		return nil, errors.Wrap(err, "dispatch table is incomplete")
	}

	validator := opts.Validator
	if validator == nil && opts.Validation.Enabled {
		v, err := schema.NewValidator(logger)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create envelope validator")
		}
		validator = v
	}
	s.pipeline = middleware.NewChain(s.handleMessage).
		Use(middleware.NewValidationMiddleware(validator, opts.Validation, logger).Func()).
		Handler()

	return s, nil
}

// Registry returns the registry the Server answers from.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Info returns the Server's own implementation info.
func (s *Server) Info() mcptypes.Implementation {
	return s.info
}

// Start builds an Acceptor channel observed by s, starts it and returns its unsubscribe
// handle. A channel from an earlier Start is closed first.
func (s *Server) Start(ctx context.Context, cfg transport.AcceptorConfig) (func(), error) {
	if cfg.Logger == nil {
		cfg.Logger = s.logger
	}
	ch, err := transport.NewAcceptor(cfg, s)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	prev := s.channel
	s.channel = ch
	s.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}

	unsubscribe, err := ch.Start(ctx)
	if err != nil {
		s.mu.Lock()
		if s.channel == ch {
			s.channel = nil
		}
		s.mu.Unlock()
		return nil, err
	}
	s.logger.Info("Server channel started.", "server", s.info.Name)
	return unsubscribe, nil
}

// Close closes the current channel. Calls awaiting a response are cancelled.
func (s *Server) Close() error {
	s.mu.Lock()
	ch := s.channel
	s.channel = nil
	s.mu.Unlock()
	if ch == nil {
		return nil
	}
	return ch.Close()
}

// Wait blocks until every message handed to the Server has been processed.
func (s *Server) Wait() {
	s.inflight.Wait()
}

// PeerInitialized reports whether the peer sent notifications/initialized after its
// latest initialize.
func (s *Server) PeerInitialized() bool {
	return s.session.Is(state.StateInitialized)
}

// SessionState returns the handshake state.
func (s *Server) SessionState() fsm.State {
	return s.session.CurrentState()
}

// PeerInfo returns the clientInfo of the latest initialize request.
func (s *Server) PeerInfo() mcptypes.Implementation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peerInfo
}

// Request calls method on the peer and waits for its response.
func (s *Server) Request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	res, err := s.correlator.Request(ctx, method, params)
	s.metrics.RecordOutbound(errors.Is(err, mcperrors.ErrRequestTimeout), err)
	return res, err
}

// Notify sends a notification to the peer.
func (s *Server) Notify(ctx context.Context, method string, params interface{}) error {
	return s.correlator.Notify(ctx, method, params)
}

func (s *Server) send(ctx context.Context, payload []byte) error {
	s.mu.RLock()
	ch := s.channel
	s.mu.RUnlock()
	if ch == nil {
		return mcperrors.NewTransportNotStartedError("send")
	}
	return ch.Send(ctx, payload)
}

// OnMessage resolves responses on the delivering goroutine and queues requests and
// notifications for a single worker, so they are handled in arrival order while the
// channel acknowledges without waiting for a handler.
func (s *Server) OnMessage(ctx context.Context, payload []byte) {
	data := append([]byte(nil), payload...)
	ctx = context.WithoutCancel(ctx)
	s.inflight.Add(1)

	var peek jsonrpc.Message
	if err := json.Unmarshal(data, &peek); err == nil && peek.IsResponse() {
		defer s.inflight.Done()
		s.process(ctx, data)
		return
	}
	s.queue.push(func() {
		defer s.inflight.Done()
		s.process(ctx, data)
	})
}

// OnError records a delivery failure on the channel.
func (s *Server) OnError(err error) {
	s.logger.Warn("Channel delivery failed.", "error", err)
	s.metrics.RecordDeliveryFailure()
}

// OnReject records a message refused by the origin allow-list.
func (s *Server) OnReject(origin string) {
	s.metrics.RecordRejectedOrigin(origin)
}

// OnClose cancels calls the Server was waiting on.
func (s *Server) OnClose() {
	if n := s.correlator.CancelAll(mcperrors.NewCancelledError("channel closed")); n > 0 {
		s.logger.Info("Cancelled pending requests on close.", "count", n)
	}
}

func (s *Server) process(ctx context.Context, data []byte) {
	reply, err := s.pipeline(ctx, data)
	if err != nil {
		s.logger.Error("Failed to process message.", "error", err)
		s.metrics.RecordError("mcp_server", err.Error())
		return
	}
	if reply == nil {
		return
	}
	if err := s.send(ctx, reply); err != nil {
		s.logger.Warn("Failed to send reply.", "error", err)
	}
}

// handleMessage is the final stage of the inbound pipeline. It returns the encoded
// response for requests and nil for everything else.
func (s *Server) handleMessage(ctx context.Context, data []byte) ([]byte, error) {
	var msg jsonrpc.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.metrics.RecordDropped()
		return jsonrpc.Encode(jsonrpc.NewErrorResponse(json.RawMessage("null"),
			int(mcperrors.CodeParseError), "Parse error"))
	}
	if err := msg.Check(); err != nil {
		if msg.IsRequest() {
			code, message := mcperrors.ToJSONRPC(mcperrors.NewInvalidRequestError(err.Error(), err))
			return jsonrpc.Encode(jsonrpc.NewErrorResponse(msg.ID, code, message))
		}
		s.logger.Debug("Dropping malformed message.", "error", err)
		s.metrics.RecordDropped()
		return nil, nil
	}

	switch {
	case msg.IsResponse():
		if !s.correlator.HandleResponse(&msg) {
			s.metrics.RecordDropped()
		}
		return nil, nil

	case msg.IsNotification():
		s.session.Observe(ctx, msg.Method)
		if _, err := s.router.Route(ctx, msg.Method, msg.Params, true); err != nil {
			s.logger.Debug("Notification not handled.", "method", msg.Method, "error", err)
		}
		return nil, nil
	}

	s.session.Observe(ctx, msg.Method)
	start := time.Now()
	result, err := s.router.Route(ctx, msg.Method, msg.Params, false)
	s.metrics.RecordRequest(msg.Method, time.Since(start), err == nil)
	if err != nil {
		code, message := mcperrors.ToJSONRPC(err)
		s.logger.Warn("Request failed.", "method", msg.Method, "code", code, "error", err)
		return jsonrpc.Encode(jsonrpc.NewErrorResponse(msg.ID, code, message))
	}

	var res interface{}
	if len(result) > 0 {
		res = result
	}
	resp, err := jsonrpc.NewResult(msg.ID, res)
	if err != nil {
		return nil, err
	}
	return jsonrpc.Encode(resp)
}
