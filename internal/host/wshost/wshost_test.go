// file: internal/host/wshost/wshost_test.go
package wshost

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/framelink/internal/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const clientOrigin = "https://client.example.com"

type inbound struct {
	origin string
	data   string
}

// startEchoServer serves connections whose local listener records each message and
// echoes it back to the sender.
func startEchoServer(t *testing.T, claim bool) (wsURL string, seen chan inbound) {
	t.Helper()
	seen = make(chan inbound, 8)
	handler := NewHandler("https://server.example.com", func(_ context.Context, local *host.MemoryWindow, peer *Peer) error {
		local.AddListener(func(ctx context.Context, msg host.Message) (host.Ack, bool) {
			if !claim {
				return host.Ack{}, false
			}
			seen <- inbound{origin: msg.Origin, data: string(msg.Data)}
			go func() {
				_, _ = msg.Source.PostMessage(context.Background(), msg.Data, host.AnyOrigin, local)
			}()
			return host.Ack{Received: true}, true
		})
		return nil
	}, nil)

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http"), seen
}

func TestDial_PostMessage_RoundTrip(t *testing.T) {
	wsURL, seen := startEchoServer(t, true)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	peer, err := Dial(ctx, wsURL, clientOrigin, nil)
	require.NoError(t, err)
	defer peer.Close()

	echoed := make(chan inbound, 1)
	peer.Local().AddListener(func(_ context.Context, msg host.Message) (host.Ack, bool) {
		echoed <- inbound{origin: msg.Origin, data: string(msg.Data)}
		return host.Ack{Received: true}, true
	})

	ack, err := peer.PostMessage(ctx, []byte(`{"hello":"world"}`), host.AnyOrigin, peer.Local())
	require.NoError(t, err)
	assert.True(t, ack.Received)

	select {
	case got := <-seen:
		assert.Equal(t, clientOrigin, got.origin, "server must see the Origin header")
		assert.JSONEq(t, `{"hello":"world"}`, got.data)
	case <-ctx.Done():
		t.Fatal("server never received the message")
	}

	select {
	case got := <-echoed:
		assert.Equal(t, peer.Origin(), got.origin)
		assert.JSONEq(t, `{"hello":"world"}`, got.data)
	case <-ctx.Done():
		t.Fatal("client never received the echo")
	}
}

func TestPeer_PostMessage_UnclaimedIsNegativeAck(t *testing.T) {
	wsURL, _ := startEchoServer(t, false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	peer, err := Dial(ctx, wsURL, clientOrigin, nil)
	require.NoError(t, err)
	defer peer.Close()

	ack, err := peer.PostMessage(ctx, []byte(`{}`), host.AnyOrigin, nil)
	require.NoError(t, err)
	assert.False(t, ack.Received)
	assert.Contains(t, ack.Error, "no listener")
}

func TestPeer_PostMessage_TargetOriginMismatch(t *testing.T) {
	wsURL, _ := startEchoServer(t, true)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	peer, err := Dial(ctx, wsURL, clientOrigin, nil)
	require.NoError(t, err)
	defer peer.Close()

	_, err = peer.PostMessage(ctx, []byte(`{}`), "https://elsewhere.example.com", nil)
	assert.True(t, errors.Is(err, host.ErrTargetOriginMismatch))
}

func TestPeer_Close_FailsPosts(t *testing.T) {
	wsURL, _ := startEchoServer(t, true)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	peer, err := Dial(ctx, wsURL, clientOrigin, nil)
	require.NoError(t, err)
	require.NoError(t, peer.Close())
	assert.NoError(t, peer.Close(), "second close is a no-op")

	select {
	case <-peer.Done():
	default:
		t.Fatal("Done should be closed after Close")
	}
	_, err = peer.PostMessage(ctx, []byte(`{}`), host.AnyOrigin, nil)
	assert.True(t, errors.Is(err, ErrPeerClosed))
}

func TestHandler_ConnectError_DropsConnection(t *testing.T) {
	handler := NewHandler("https://server.example.com", func(context.Context, *host.MemoryWindow, *Peer) error {
		return errors.New("not today")
	}, nil)
	ts := httptest.NewServer(handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	peer, err := Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http"), clientOrigin, nil)
	require.NoError(t, err)
	defer peer.Close()

	select {
	case <-peer.Done():
	case <-ctx.Done():
		t.Fatal("client peer should observe the dropped connection")
	}
}

func TestOriginFromURL(t *testing.T) {
	tests := map[string]string{
		"ws://127.0.0.1:8080/ws":  "http://127.0.0.1:8080",
		"wss://App.Example.com/x": "https://app.example.com",
	}
	for in, want := range tests {
		got, err := OriginFromURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := OriginFromURL("ftp://example.com")
	assert.Error(t, err)
	_, err = OriginFromURL("ws:///nohost")
	assert.Error(t, err)
}
