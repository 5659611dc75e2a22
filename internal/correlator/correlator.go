// Package correlator matches JSON-RPC responses to the requests that caused them.
// file: internal/correlator/correlator.go
package correlator

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/framelink/internal/jsonrpc"
	"github.com/dkoosis/framelink/internal/logging"
	mcperrors "github.com/dkoosis/framelink/internal/mcp/mcp_errors"
)

// DefaultTimeout bounds how long a request waits for its response.
const DefaultTimeout = 30 * time.Second

// Sender transmits an encoded message.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, payload []byte) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, payload []byte) error {
	return f(ctx, payload)
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *Correlator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Correlator) {
		c.logger = logging.OrNoop(l)
	}
}

type outcome struct {
	result json.RawMessage
	err    error
}

type pendingCall struct {
	method string
	done   chan outcome
}

// Correlator allocates request ids and tracks pending calls. Ids start at 1 and are never
// reused for the lifetime of the Correlator, so a late response can never resolve a newer
// call.
type Correlator struct {
	sender  Sender
	timeout time.Duration
	logger  logging.Logger

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]*pendingCall
}

// New returns a Correlator that transmits through sender.
func New(sender Sender, opts ...Option) *Correlator {
	c := &Correlator{
		sender:  sender,
		timeout: DefaultTimeout,
		logger:  logging.GetNoopLogger(),
		pending: make(map[int64]*pendingCall),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NextID returns the next request id.
func (c *Correlator) NextID() int64 {
	return c.nextID.Add(1)
}

// Timeout returns the per-request deadline.
func (c *Correlator) Timeout() time.Duration {
	return c.timeout
}

// Request sends method with params and waits for the matching response, the deadline,
// or ctx. A response carrying an error object is returned as a *mcperrors.RemoteError.
func (c *Correlator) Request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := c.NextID()
	msg, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	payload, err := jsonrpc.Encode(msg)
	if err != nil {
		return nil, err
	}

	// Registered before sending: a synchronous host may deliver the response while
	// Send is still running.
	pc := &pendingCall{method: method, done: make(chan outcome, 1)}
	c.mu.Lock()
	c.pending[id] = pc
	c.mu.Unlock()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	if err := c.sender.Send(ctx, payload); err != nil {
		c.remove(id)
		return nil, errors.Wrapf(err, "failed to send request '%s'", method)
	}

	select {
	case out := <-pc.done:
		return out.result, out.err
	case <-timer.C:
		if c.remove(id) {
			c.logger.Warn("Request timed out.", "method", method, "id", id, "timeout", c.timeout)
			return nil, mcperrors.NewRequestTimeoutError(method, id, c.timeout)
		}
		out := <-pc.done
		return out.result, out.err
	case <-ctx.Done():
		if c.remove(id) {
			return nil, errors.Wrapf(ctx.Err(), "request '%s' abandoned", method)
		}
		out := <-pc.done
		return out.result, out.err
	}
}

// remove deletes id and reports whether it was still pending.
func (c *Correlator) remove(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

// Notify sends a notification. Nothing is tracked and no response is expected.
func (c *Correlator) Notify(ctx context.Context, method string, params interface{}) error {
	msg, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	payload, err := jsonrpc.Encode(msg)
	if err != nil {
		return err
	}
	if err := c.sender.Send(ctx, payload); err != nil {
		return errors.Wrapf(err, "failed to send notification '%s'", method)
	}
	return nil
}

// HandleResponse resolves the pending call matching msg. Responses with unknown or
// already-settled ids are ignored and reported as false.
func (c *Correlator) HandleResponse(msg *jsonrpc.Message) bool {
	if msg == nil || !msg.IsResponse() {
		return false
	}
	id, ok := msg.IntID()
	if !ok {
		return false
	}

	c.mu.Lock()
	pc, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("Ignoring response for unknown request id.", "id", id)
		return false
	}

	var out outcome
	if msg.Error != nil {
		out.err = mcperrors.NewRemoteError(msg.Error.Code, msg.Error.Message, msg.Error.Data)
	} else {
		out.result = msg.Result
	}
	pc.done <- out
	return true
}

// CancelAll rejects every pending call with err and returns how many were pending. A nil
// err becomes a Cancelled error.
func (c *Correlator) CancelAll(err error) int {
	if err == nil {
		err = mcperrors.NewCancelledError("correlator reset")
	}
	c.mu.Lock()
	calls := c.pending
	c.pending = make(map[int64]*pendingCall)
	c.mu.Unlock()

	for id, pc := range calls {
		c.logger.Debug("Cancelling pending request.", "method", pc.method, "id", id)
		pc.done <- outcome{err: err}
	}
	return len(calls)
}

// Pending returns the number of calls awaiting a response.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
