// Package state defines the lifecycle machines of the protocol engines: the initiator's
// connection state and the acceptor's view of its peer's handshake.
// file: internal/mcp/state/states.go
package state

import "github.com/dkoosis/framelink/internal/fsm"

// Connection states, owned by the initiator engine.
const (
	StateDisconnected fsm.State = "disconnected"
	StateConnecting   fsm.State = "connecting"
	StateConnected    fsm.State = "connected"
	StateError        fsm.State = "error"
)

// Session states, owned by the acceptor engine.
const (
	StateUninitialized fsm.State = "uninitialized" // No initialize request seen.
	StateInitializing  fsm.State = "initializing"  // Initialize answered, awaiting notifications/initialized.
	StateInitialized   fsm.State = "initialized"   // Handshake complete.
)
