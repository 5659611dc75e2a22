// file: internal/host/wshost/server.go
package wshost

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/framelink/internal/host"
	"github.com/dkoosis/framelink/internal/logging"
	"github.com/gorilla/websocket"
)

// ConnectFunc is called for each accepted connection before any frame is read, so a
// channel can install its listener on local first. Returning an error drops the
// connection.
type ConnectFunc func(ctx context.Context, local *host.MemoryWindow, peer *Peer) error

// Handler upgrades HTTP requests to websocket connections. The sender origin of every
// message on a connection is the request's Origin header. Origins are not filtered at
// upgrade time; channels apply their allow-list per message.
type Handler struct {
	localOrigin string
	onConnect   ConnectFunc
	upgrader    websocket.Upgrader
	logger      logging.Logger
}

// NewHandler returns a Handler whose local windows have localOrigin.
func NewHandler(localOrigin string, onConnect ConnectFunc, logger logging.Logger) *Handler {
	return &Handler{
		localOrigin: localOrigin,
		onConnect:   onConnect,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logging.OrNoop(logger).WithField("component", "wshost"),
	}
}

// ServeHTTP serves one connection until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed.", "error", err)
		return
	}

	origin := strings.TrimSpace(r.Header.Get("Origin"))
	local := host.NewMemoryWindow(h.localOrigin, nil)
	peer := newPeer(conn, origin, local, h.logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if h.onConnect != nil {
		if err := h.onConnect(ctx, local, peer); err != nil {
			h.logger.Warn("Connection rejected by setup.", "origin", origin, "error", err)
			_ = peer.Close()
			return
		}
	}
	h.logger.Info("Websocket peer connected.", "origin", origin)
	peer.serve(ctx)
	h.logger.Info("Websocket peer disconnected.", "origin", origin)
}

// Dial connects to a Handler at rawURL, announcing localOrigin as the Origin header. The
// returned Peer's origin is derived from rawURL (ws→http, wss→https). Inbound messages
// are dispatched into peer.Local(), whose parent is nil.
func Dial(ctx context.Context, rawURL, localOrigin string, logger logging.Logger) (*Peer, error) {
	peerOrigin, err := OriginFromURL(rawURL)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if localOrigin != "" {
		header.Set("Origin", localOrigin)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, header)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", rawURL)
	}

	local := host.NewMemoryWindow(localOrigin, nil)
	peer := newPeer(conn, peerOrigin, local, logging.OrNoop(logger).WithField("component", "wshost"))
	go peer.serve(context.Background())
	return peer, nil
}

// OriginFromURL maps a websocket URL to the http(s) origin of the server behind it.
func OriginFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrapf(err, "invalid websocket url %q", rawURL)
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "ws":
		scheme = "http"
	case "wss":
		scheme = "https"
	case "http", "https":
	default:
		return "", errors.Newf("unsupported websocket scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.Newf("websocket url %q has no host", rawURL)
	}
	return scheme + "://" + strings.ToLower(u.Host), nil
}
