// Package host models the cross-document messaging primitive that channels are built on:
// windows that post messages to each other, frames that embed a window, and the
// low-level acknowledgement every delivery is answered with.
// file: internal/host/host.go
package host

import (
	"context"

	"github.com/cockroachdb/errors"
)

// AnyOrigin is the target-origin filter that matches every receiver.
const AnyOrigin = "*"

var (
	// ErrNoListener is returned when no listener on the receiving window claimed a message.
	ErrNoListener = errors.New("no listener handled the message")
	// ErrTargetOriginMismatch is returned when the receiver's origin does not satisfy the
	// sender's target-origin filter.
	ErrTargetOriginMismatch = errors.New("target origin does not match receiver")
	// ErrFrameDetached is returned when a frame has no content window.
	ErrFrameDetached = errors.New("frame is not attached")
)

// Ack is the low-level acknowledgement returned for every delivered message. It is
// independent of any JSON-RPC response.
type Ack struct {
	Received bool   `json:"received"`
	Error    string `json:"error,omitempty"`
}

// Message is one inbound delivery as seen by a listener.
type Message struct {
	// Origin is the sender's origin as reported by the host, never by the payload.
	Origin string
	Data   []byte
	// Source is the sending context, usable as a reply target.
	Source Target
}

// Handler is a window listener. It returns ok=false when the message is not addressed to
// it, letting later listeners see it.
type Handler func(ctx context.Context, msg Message) (ack Ack, ok bool)

// Target is anything a message can be posted to.
type Target interface {
	Origin() string
	// PostMessage delivers data to the target if the target's origin satisfies
	// targetOrigin ("*" or an exact origin) and returns the receiver's acknowledgement.
	PostMessage(ctx context.Context, data []byte, targetOrigin string, from Target) (Ack, error)
}

// Window is a browsing context that can receive messages.
type Window interface {
	Target
	// Parent returns the enclosing context, or nil for a top-level window.
	Parent() Window
	// AddListener installs h and returns a function that removes it.
	AddListener(h Handler) (remove func())
}

// Frame embeds a window. ContentWindow reports false until a document is attached.
type Frame interface {
	ContentWindow() (Window, bool)
}

// OriginMatches reports whether a receiver at origin satisfies the target-origin filter.
func OriginMatches(targetOrigin, origin string) bool {
	return targetOrigin == AnyOrigin || targetOrigin == origin
}
