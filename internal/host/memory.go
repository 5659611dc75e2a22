// file: internal/host/memory.go
package host

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

// MemoryWindow is an in-process Window. Delivery is synchronous: PostMessage runs the
// receiving listeners on the caller's goroutine and returns the first claiming ack.
type MemoryWindow struct {
	origin string
	parent Window

	mu        sync.Mutex
	nextID    uint64
	listeners []listenerEntry
}

type listenerEntry struct {
	id      uint64
	handler Handler
}

var _ Window = (*MemoryWindow)(nil)

// NewMemoryWindow creates a window at origin. parent may be nil for a top-level window.
func NewMemoryWindow(origin string, parent Window) *MemoryWindow {
	return &MemoryWindow{origin: origin, parent: parent}
}

// Origin returns the window's origin.
func (w *MemoryWindow) Origin() string {
	return w.origin
}

// Parent returns the enclosing window or nil.
func (w *MemoryWindow) Parent() Window {
	return w.parent
}

// AddListener installs h. The returned function is safe to call more than once.
func (w *MemoryWindow) AddListener(h Handler) func() {
	w.mu.Lock()
	w.nextID++
	id := w.nextID
	w.listeners = append(w.listeners, listenerEntry{id: id, handler: h})
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { w.removeListener(id) })
	}
}

func (w *MemoryWindow) removeListener(id uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, l := range w.listeners {
		if l.id == id {
			w.listeners = append(w.listeners[:i], w.listeners[i+1:]...)
			return
		}
	}
}

// ListenerCount returns the number of installed listeners.
func (w *MemoryWindow) ListenerCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.listeners)
}

// PostMessage delivers a copy of data to this window as if sent by from.
func (w *MemoryWindow) PostMessage(ctx context.Context, data []byte, targetOrigin string, from Target) (Ack, error) {
	if !OriginMatches(targetOrigin, w.origin) {
		return Ack{}, errors.Wrapf(ErrTargetOriginMismatch, "target origin %q, receiver %q", targetOrigin, w.origin)
	}
	msg := Message{Data: append([]byte(nil), data...), Source: from}
	if from != nil {
		msg.Origin = from.Origin()
	}
	return w.Dispatch(ctx, msg)
}

// Dispatch runs msg through the installed listeners in installation order. Bridges use it
// to inject messages whose origin was established out of band.
func (w *MemoryWindow) Dispatch(ctx context.Context, msg Message) (Ack, error) {
	w.mu.Lock()
	snapshot := make([]Handler, len(w.listeners))
	for i, l := range w.listeners {
		snapshot[i] = l.handler
	}
	w.mu.Unlock()

	for _, h := range snapshot {
		if ack, ok := h(ctx, msg); ok {
			return ack, nil
		}
	}
	return Ack{}, ErrNoListener
}

// MemoryFrame is a Frame whose content window is attached and detached explicitly.
type MemoryFrame struct {
	mu     sync.RWMutex
	window Window
}

var _ Frame = (*MemoryFrame)(nil)

// NewMemoryFrame returns a detached frame.
func NewMemoryFrame() *MemoryFrame {
	return &MemoryFrame{}
}

// Attach sets the frame's content window.
func (f *MemoryFrame) Attach(w Window) {
	f.mu.Lock()
	f.window = w
	f.mu.Unlock()
}

// Detach clears the frame's content window.
func (f *MemoryFrame) Detach() {
	f.mu.Lock()
	f.window = nil
	f.mu.Unlock()
}

// ContentWindow returns the attached window.
func (f *MemoryFrame) ContentWindow() (Window, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.window, f.window != nil
}

// Embed creates a child window at origin inside parent, attached to a new frame.
func Embed(parent *MemoryWindow, origin string) (*MemoryWindow, *MemoryFrame) {
	child := NewMemoryWindow(origin, parent)
	frame := NewMemoryFrame()
	frame.Attach(child)
	return child, frame
}
