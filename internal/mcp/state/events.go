// file: internal/mcp/state/events.go
package state

import (
	"github.com/dkoosis/framelink/internal/fsm"
	mcptypes "github.com/dkoosis/framelink/internal/mcp_types"
)

// Connection events.
const (
	EventConnect    fsm.Event = "connect"
	EventConnected  fsm.Event = "connected"
	EventFail       fsm.Event = "fail"
	EventDisconnect fsm.Event = "disconnect"
)

// Session events.
const (
	EventInitializeRequest fsm.Event = "rcvd_initialize_request"
	EventClientInitialized fsm.Event = "rcvd_client_initialized_notif"
)

// EventForMethod maps an inbound method to the session event it triggers, or "" when
// the method has no lifecycle effect.
func EventForMethod(method string) fsm.Event {
	switch method {
	case mcptypes.MethodInitialize:
		return EventInitializeRequest
	case mcptypes.MethodInitialized:
		return EventClientInitialized
	default:
		return ""
	}
}
