// Package wshost bridges host windows across a websocket connection. Each side keeps a
// local host.MemoryWindow; messages posted to a Peer travel as frames and are dispatched
// into the remote side's window with the Peer as source, and the remote listener's ack
// travels back keyed by a uuid.
// file: internal/host/wshost/peer.go
package wshost

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/framelink/internal/host"
	"github.com/dkoosis/framelink/internal/logging"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	frameMessage = "message"
	frameAck     = "ack"

	readLimit         = 1 << 20
	defaultAckTimeout = 10 * time.Second
	writeWait         = 10 * time.Second
)

// ErrPeerClosed is returned for posts on, or acks pending on, a closed connection.
var ErrPeerClosed = errors.New("websocket peer closed")

type wireFrame struct {
	Type     string          `json:"type"`
	ID       string          `json:"id"`
	Data     json.RawMessage `json:"data,omitempty"`
	Received bool            `json:"received,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Peer is the remote end of a websocket connection, usable as a host.Target.
type Peer struct {
	conn       *websocket.Conn
	origin     string
	local      *host.MemoryWindow
	logger     logging.Logger
	ackTimeout time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan host.Ack

	closeOnce sync.Once
	done      chan struct{}
}

var _ host.Target = (*Peer)(nil)

func newPeer(conn *websocket.Conn, origin string, local *host.MemoryWindow, logger logging.Logger) *Peer {
	conn.SetReadLimit(readLimit)
	return &Peer{
		conn:       conn,
		origin:     origin,
		local:      local,
		logger:     logging.OrNoop(logger).WithField("peer_origin", origin),
		ackTimeout: defaultAckTimeout,
		pending:    make(map[string]chan host.Ack),
		done:       make(chan struct{}),
	}
}

// Origin returns the remote side's origin.
func (p *Peer) Origin() string {
	return p.origin
}

// Local returns the window inbound messages are dispatched into.
func (p *Peer) Local() *host.MemoryWindow {
	return p.local
}

// Done is closed once the connection has shut down.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// PostMessage sends data to the remote window and waits for its ack. from is implied by
// the connection and ignored.
func (p *Peer) PostMessage(ctx context.Context, data []byte, targetOrigin string, _ host.Target) (host.Ack, error) {
	if !host.OriginMatches(targetOrigin, p.origin) {
		return host.Ack{}, errors.Wrapf(host.ErrTargetOriginMismatch, "target origin %q, receiver %q", targetOrigin, p.origin)
	}

	id := uuid.NewString()
	ackCh := make(chan host.Ack, 1)
	p.mu.Lock()
	select {
	case <-p.done:
		p.mu.Unlock()
		return host.Ack{}, ErrPeerClosed
	default:
	}
	p.pending[id] = ackCh
	p.mu.Unlock()
	defer p.forget(id)

	if err := p.write(wireFrame{Type: frameMessage, ID: id, Data: json.RawMessage(data)}); err != nil {
		return host.Ack{}, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.ackTimeout)
		defer cancel()
	}

	select {
	case ack := <-ackCh:
		return ack, nil
	case <-p.done:
		return host.Ack{}, ErrPeerClosed
	case <-ctx.Done():
		return host.Ack{}, errors.Wrap(ctx.Err(), "waiting for websocket ack")
	}
}

func (p *Peer) forget(id string) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

func (p *Peer) write(f wireFrame) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := p.conn.WriteJSON(f); err != nil {
		return errors.Wrap(err, "websocket write failed")
	}
	return nil
}

// serve reads frames until the connection fails or is closed. Inbound messages are
// dispatched synchronously, in arrival order.
func (p *Peer) serve(ctx context.Context) {
	defer p.Close()
	for {
		var f wireFrame
		if err := p.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.logger.Warn("Websocket read failed.", "error", err)
			}
			return
		}

		switch f.Type {
		case frameMessage:
			ack, err := p.local.Dispatch(ctx, host.Message{Origin: p.origin, Data: []byte(f.Data), Source: p})
			if err != nil {
				ack = host.Ack{Received: false, Error: err.Error()}
			}
			if err := p.write(wireFrame{Type: frameAck, ID: f.ID, Received: ack.Received, Error: ack.Error}); err != nil {
				p.logger.Warn("Failed to write ack.", "id", f.ID, "error", err)
				return
			}
		case frameAck:
			p.mu.Lock()
			ch, ok := p.pending[f.ID]
			p.mu.Unlock()
			if ok {
				select {
				case ch <- host.Ack{Received: f.Received, Error: f.Error}:
				default:
				}
			}
		default:
			p.logger.Debug("Ignoring unknown frame type.", "type", f.Type)
		}
	}
}

// Close shuts the connection down. Safe to call more than once.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		close(p.done)
		p.mu.Unlock()

		p.writeMu.Lock()
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		p.writeMu.Unlock()
		err = p.conn.Close()
	})
	return err
}
