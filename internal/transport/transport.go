// Package transport implements message channels over the host messaging primitive. An
// Initiator runs in the embedded or calling context and an Acceptor answers it; both
// share one lifecycle and one inbound gate that enforces the origin allow-list.
package transport

// file: internal/transport/transport.go

import (
	"context"
	"sync"

	"github.com/dkoosis/framelink/internal/fsm"
	"github.com/dkoosis/framelink/internal/host"
	"github.com/dkoosis/framelink/internal/logging"
	mcperrors "github.com/dkoosis/framelink/internal/mcp/mcp_errors"
	"github.com/dkoosis/framelink/internal/origin"
)

// MaxMessageSize defines the maximum allowed size for a single outbound payload in bytes.
const MaxMessageSize = 1024 * 1024 // 1MB.

// OriginNotAllowed is the ack error returned for messages rejected by the allow-list.
const OriginNotAllowed = "Origin not allowed"

// Channel states.
const (
	StateIdle     fsm.State = "idle"
	StateStarting fsm.State = "starting"
	StateActive   fsm.State = "active"
	StateClosed   fsm.State = "closed"
)

const (
	eventStart   fsm.Event = "start"
	eventStarted fsm.Event = "started"
	eventFail    fsm.Event = "fail"
	eventClose   fsm.Event = "close"
)

// Channel is the lifecycle shared by Initiator and Acceptor.
type Channel interface {
	// Start resolves the target, installs the channel's single listener and returns a
	// handle that removes it.
	Start(ctx context.Context) (unsubscribe func(), err error)
	// Send posts payload to the target. It fails with TransportNotStarted unless active.
	Send(ctx context.Context, payload []byte) error
	// Close removes the listener and moves the channel to closed. Idempotent.
	Close() error
	State() fsm.State
}

// Observer receives a channel's callbacks.
type Observer interface {
	// OnMessage is called synchronously for every accepted inbound payload.
	OnMessage(ctx context.Context, payload []byte)
	// OnError is called for delivery failures on Send.
	OnError(err error)
	// OnClose is called exactly once, when the channel closes.
	OnClose()
}

// RejectObserver is an optional extension of Observer notified of allow-list rejections.
type RejectObserver interface {
	OnReject(origin string)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Message func(ctx context.Context, payload []byte)
	Error   func(err error)
	Close   func()
}

// OnMessage implements Observer.
func (o ObserverFuncs) OnMessage(ctx context.Context, payload []byte) {
	if o.Message != nil {
		o.Message(ctx, payload)
	}
}

// OnError implements Observer.
func (o ObserverFuncs) OnError(err error) {
	if o.Error != nil {
		o.Error(err)
	}
}

// OnClose implements Observer.
func (o ObserverFuncs) OnClose() {
	if o.Close != nil {
		o.Close()
	}
}

// channel holds everything common to both roles.
type channel struct {
	role         string
	local        host.Window
	allow        origin.AllowList
	targetOrigin string
	observer     Observer
	logger       logging.Logger
	machine      fsm.FSM

	mu          sync.Mutex
	target      host.Target
	unsubscribe func()
	closeOnce   sync.Once
}

func newChannel(role string, local host.Window, targetOrigin string, allowed []string,
	observer Observer, logger logging.Logger) (*channel, error) {
	if local == nil {
		return nil, NewTargetError("local window is required", nil)
	}
	if targetOrigin == "" {
		targetOrigin = host.AnyOrigin
	}
	if observer == nil {
		observer = ObserverFuncs{}
	}
	logger = logging.OrNoop(logger).WithField("role", role)

	machine, err := fsm.NewBuilder(StateIdle, logger).
		AddTransition(fsm.Transition{From: []fsm.State{StateIdle, StateActive}, To: StateStarting, Event: eventStart}).
		AddTransition(fsm.Transition{From: []fsm.State{StateStarting}, To: StateActive, Event: eventStarted}).
		AddTransition(fsm.Transition{From: []fsm.State{StateStarting}, To: StateIdle, Event: eventFail}).
		AddTransition(fsm.Transition{
			From:  []fsm.State{StateIdle, StateStarting, StateActive, StateClosed},
			To:    StateClosed,
			Event: eventClose,
		}).
		Build()
	if err != nil {
		return nil, err
	}

	allow := origin.NewAllowList(allowed)
	if allow.AllowsAll() {
		logger.Warn("Channel has no origin allow-list; every sender origin is accepted.")
	}

	return &channel{
		role:         role,
		local:        local,
		allow:        allow,
		targetOrigin: targetOrigin,
		observer:     observer,
		logger:       logger,
		machine:      machine,
	}, nil
}

// State returns the current channel state.
func (c *channel) State() fsm.State {
	return c.machine.CurrentState()
}

// start drives idle|active → starting → active. resolve finds the target; settle runs
// after the listener is installed and before the channel reports active.
func (c *channel) start(ctx context.Context, resolve func() (host.Target, error),
	settle func(ctx context.Context) error) (func(), error) {
	if c.machine.Is(StateClosed) {
		return nil, NewClosedError("start")
	}
	if err := c.machine.Transition(ctx, eventStart, nil); err != nil {
		return nil, NewError(ErrInvalidState, "channel cannot start in its current state", err)
	}

	target, err := resolve()
	if err != nil {
		_ = c.machine.Transition(ctx, eventFail, nil)
		return nil, err
	}

	c.mu.Lock()
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	remove := c.local.AddListener(c.inbound(target))
	c.target = target
	c.unsubscribe = remove
	c.mu.Unlock()

	if settle != nil {
		if err := settle(ctx); err != nil {
			c.detach()
			_ = c.machine.Transition(ctx, eventFail, nil)
			return nil, err
		}
	}

	if err := c.machine.Transition(ctx, eventStarted, nil); err != nil {
		// Closed while settling.
		c.detach()
		return nil, NewClosedError("start")
	}
	c.logger.Debug("Channel started.", "target_origin", target.Origin())
	return c.detach, nil
}

// detach removes the installed listener, if any.
func (c *channel) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

// inbound builds the single listener for target. Messages from other sources, or from
// origins outside the coarse target-origin filter, are left for other listeners.
func (c *channel) inbound(target host.Target) host.Handler {
	return func(ctx context.Context, msg host.Message) (host.Ack, bool) {
		if msg.Source != target {
			return host.Ack{}, false
		}
		if !host.OriginMatches(c.targetOrigin, msg.Origin) {
			return host.Ack{}, false
		}
		if !c.allow.Allows(msg.Origin) {
			c.logger.Warn("Rejected message from disallowed origin.", "origin", msg.Origin)
			if ro, ok := c.observer.(RejectObserver); ok {
				ro.OnReject(msg.Origin)
			}
			return host.Ack{Received: false, Error: OriginNotAllowed}, true
		}
		c.observer.OnMessage(ctx, msg.Data)
		return host.Ack{Received: true}, true
	}
}

// Send posts payload to the resolved target.
func (c *channel) Send(ctx context.Context, payload []byte) error {
	if !c.machine.Is(StateActive) {
		return mcperrors.NewTransportNotStartedError("send")
	}
	if len(payload) > MaxMessageSize {
		err := NewMessageSizeError(len(payload), MaxMessageSize)
		c.observer.OnError(err)
		return err
	}

	c.mu.Lock()
	target := c.target
	c.mu.Unlock()
	if target == nil {
		return mcperrors.NewTransportNotStartedError("send")
	}

	ack, err := target.PostMessage(ctx, payload, c.targetOrigin, c.local)
	if err != nil {
		derr := NewDeliveryError("", err)
		c.logger.Warn("Message delivery failed.", "error", err)
		c.observer.OnError(derr)
		return derr
	}
	if !ack.Received {
		derr := NewDeliveryError(ack.Error, nil)
		c.logger.Warn("Message was not received by target.", "ack_error", ack.Error)
		c.observer.OnError(derr)
		return derr
	}
	return nil
}

// Close removes the listener, moves to closed and fires OnClose once.
func (c *channel) Close() error {
	c.closeOnce.Do(func() {
		c.detach()
		c.mu.Lock()
		c.target = nil
		c.mu.Unlock()
		_ = c.machine.Transition(context.Background(), eventClose, nil)
		c.logger.Debug("Channel closed.")
		c.observer.OnClose()
	})
	return nil
}
