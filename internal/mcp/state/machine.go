// file: internal/mcp/state/machine.go
package state

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/framelink/internal/fsm"
	"github.com/dkoosis/framelink/internal/logging"
)

// ConnectionMachine tracks an initiator's connection:
//
//	disconnected|error → connecting → connected
//	connecting|connected → error
//	any → disconnected
type ConnectionMachine struct {
	fsm.FSM
	logger logging.Logger
}

// NewConnectionMachine builds a machine in StateDisconnected.
func NewConnectionMachine(logger logging.Logger) (*ConnectionMachine, error) {
	log := logging.OrNoop(logger).WithField("component", "connection_state")

	machine, err := fsm.NewBuilder(StateDisconnected, log).
		AddTransition(fsm.Transition{
			From:  []fsm.State{StateDisconnected, StateError},
			Event: EventConnect,
			To:    StateConnecting,
		}).
		AddTransition(fsm.Transition{
			From:  []fsm.State{StateConnecting},
			Event: EventConnected,
			To:    StateConnected,
		}).
		AddTransition(fsm.Transition{
			From:  []fsm.State{StateConnecting, StateConnected, StateError},
			Event: EventFail,
			To:    StateError,
		}).
		AddTransition(fsm.Transition{
			From:  []fsm.State{StateDisconnected, StateConnecting, StateConnected, StateError},
			Event: EventDisconnect,
			To:    StateDisconnected,
		}).
		Build()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build connection state machine")
	}
	return &ConnectionMachine{FSM: machine, logger: log}, nil
}

// Fire triggers event and logs, rather than returns, a rejected transition. Used where
// the caller has already checked the state under its own lock.
func (m *ConnectionMachine) Fire(ctx context.Context, event fsm.Event) {
	if err := m.Transition(ctx, event, nil); err != nil {
		m.logger.Warn("Unexpected connection state transition.", "event", event, "state", m.CurrentState(), "error", err)
	}
}

// SessionMachine tracks the handshake as seen by an acceptor. A repeated initialize
// restarts the handshake, which happens when an initiator reconnects.
type SessionMachine struct {
	fsm.FSM
	logger logging.Logger
}

// NewSessionMachine builds a machine in StateUninitialized.
func NewSessionMachine(logger logging.Logger) (*SessionMachine, error) {
	log := logging.OrNoop(logger).WithField("component", "session_state")

	machine, err := fsm.NewBuilder(StateUninitialized, log).
		AddTransition(fsm.Transition{
			From:  []fsm.State{StateUninitialized, StateInitializing, StateInitialized},
			Event: EventInitializeRequest,
			To:    StateInitializing,
		}).
		AddTransition(fsm.Transition{
			From:  []fsm.State{StateInitializing},
			Event: EventClientInitialized,
			To:    StateInitialized,
		}).
		Build()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build session state machine")
	}
	return &SessionMachine{FSM: machine, logger: log}, nil
}

// Observe applies the lifecycle effect of an inbound method. Methods without one, and
// out-of-sequence notifications, leave the state unchanged.
func (m *SessionMachine) Observe(ctx context.Context, method string) {
	event := EventForMethod(method)
	if event == "" {
		return
	}
	if !m.CanTransition(event) {
		m.logger.Warn("Out-of-sequence lifecycle method ignored.", "method", method, "state", m.CurrentState())
		return
	}
	if err := m.Transition(ctx, event, nil); err != nil {
		m.logger.Warn("Lifecycle transition failed.", "method", method, "error", err)
	}
}
