// file: internal/mcp/state/machine_test.go
package state

import (
	"context"
	"testing"

	"github.com/dkoosis/framelink/internal/logging"
	mcptypes "github.com/dkoosis/framelink/internal/mcp_types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupConnectionMachine(t *testing.T) *ConnectionMachine {
	t.Helper()
	m, err := NewConnectionMachine(logging.GetNoopLogger())
	require.NoError(t, err, "Failed to create connection machine.")
	return m
}

func setupSessionMachine(t *testing.T) *SessionMachine {
	t.Helper()
	m, err := NewSessionMachine(nil)
	require.NoError(t, err, "Failed to create session machine.")
	return m
}

func TestConnectionMachine_HappyPath(t *testing.T) {
	m := setupConnectionMachine(t)
	ctx := context.Background()
	assert.Equal(t, StateDisconnected, m.CurrentState())

	require.NoError(t, m.Transition(ctx, EventConnect, nil))
	assert.Equal(t, StateConnecting, m.CurrentState())

	require.NoError(t, m.Transition(ctx, EventConnected, nil))
	assert.True(t, m.Is(StateConnected))

	require.NoError(t, m.Transition(ctx, EventDisconnect, nil))
	assert.Equal(t, StateDisconnected, m.CurrentState())
}

func TestConnectionMachine_FailureAndRetry(t *testing.T) {
	m := setupConnectionMachine(t)
	ctx := context.Background()

	require.NoError(t, m.Transition(ctx, EventConnect, nil))
	require.NoError(t, m.Transition(ctx, EventFail, nil))
	assert.Equal(t, StateError, m.CurrentState())

	assert.True(t, m.CanTransition(EventConnect), "a failed connection may be retried")
	require.NoError(t, m.Transition(ctx, EventConnect, nil))
	assert.Equal(t, StateConnecting, m.CurrentState())
}

func TestConnectionMachine_InvalidTransitions(t *testing.T) {
	m := setupConnectionMachine(t)
	ctx := context.Background()

	assert.Error(t, m.Transition(ctx, EventConnected, nil), "cannot complete a connect that never started")
	assert.Error(t, m.Transition(ctx, EventFail, nil))

	require.NoError(t, m.Transition(ctx, EventConnect, nil))
	assert.False(t, m.CanTransition(EventConnect), "connect while connecting is rejected")
	assert.Error(t, m.Transition(ctx, EventConnect, nil))
	assert.Equal(t, StateConnecting, m.CurrentState())
}

func TestConnectionMachine_DisconnectWhenDisconnected(t *testing.T) {
	m := setupConnectionMachine(t)
	assert.NoError(t, m.Transition(context.Background(), EventDisconnect, nil))
	assert.Equal(t, StateDisconnected, m.CurrentState())
}

func TestConnectionMachine_FireLogsInsteadOfFailing(t *testing.T) {
	m := setupConnectionMachine(t)
	m.Fire(context.Background(), EventConnected)
	assert.Equal(t, StateDisconnected, m.CurrentState())
	m.Fire(context.Background(), EventConnect)
	assert.Equal(t, StateConnecting, m.CurrentState())
}

func TestSessionMachine_Handshake(t *testing.T) {
	m := setupSessionMachine(t)
	ctx := context.Background()
	assert.Equal(t, StateUninitialized, m.CurrentState())

	m.Observe(ctx, mcptypes.MethodToolsList)
	assert.Equal(t, StateUninitialized, m.CurrentState(), "ordinary methods leave the state alone")

	m.Observe(ctx, mcptypes.MethodInitialized)
	assert.Equal(t, StateUninitialized, m.CurrentState(), "initialized before initialize is ignored")

	m.Observe(ctx, mcptypes.MethodInitialize)
	assert.Equal(t, StateInitializing, m.CurrentState())

	m.Observe(ctx, mcptypes.MethodInitialized)
	assert.Equal(t, StateInitialized, m.CurrentState())

	m.Observe(ctx, mcptypes.MethodInitialize)
	assert.Equal(t, StateInitializing, m.CurrentState(), "re-initialize restarts the handshake")
}

func TestEventForMethod(t *testing.T) {
	assert.Equal(t, EventInitializeRequest, EventForMethod(mcptypes.MethodInitialize))
	assert.Equal(t, EventClientInitialized, EventForMethod(mcptypes.MethodInitialized))
	assert.Empty(t, EventForMethod(mcptypes.MethodPing))
}
