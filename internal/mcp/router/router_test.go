// file: internal/mcp/router/router_test.go
package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/dkoosis/framelink/internal/logging"
	mcperrors "github.com/dkoosis/framelink/internal/mcp/mcp_errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMockHandler = errors.New("mock handler error")

func mockRequestHandler(method string, shouldError bool) Handler {
	return func(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
		if shouldError {
			return nil, errMockHandler
		}
		return json.Marshal(map[string]string{"receivedMethod": method, "receivedParams": string(params)})
	}
}

func mockNotificationHandler(shouldError bool, counter *atomic.Int32) NotificationHandler {
	return func(context.Context, json.RawMessage) error {
		counter.Add(1)
		if shouldError {
			return errMockHandler
		}
		return nil
	}
}

func assertMCPErrorCode(t *testing.T, expected mcperrors.ErrorCode, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, expected, mcperrors.CodeOf(err), "error code mismatch")
}

func TestRouter_AddRoute_Validation(t *testing.T) {
	r := NewRouter(logging.GetNoopLogger())

	require.NoError(t, r.AddRoute(Route{Method: "tools/list", Handler: mockRequestHandler("tools/list", false)}))
	assert.Error(t, r.AddRoute(Route{Method: "tools/list", Handler: mockRequestHandler("tools/list", false)}), "duplicate")
	assert.Error(t, r.AddRoute(Route{Method: "", Handler: mockRequestHandler("", false)}), "empty method")
	assert.Error(t, r.AddRoute(Route{Method: "ping"}), "no handler")

	assert.Equal(t, []string{"tools/list"}, r.GetRoutes())
}

func TestRouter_Route_Request(t *testing.T) {
	r := NewRouter(nil)
	require.NoError(t, r.AddRoute(Route{Method: "echo", Handler: mockRequestHandler("echo", false)}))
	require.NoError(t, r.AddRoute(Route{Method: "fail", Handler: mockRequestHandler("fail", true)}))

	res, err := r.Route(context.Background(), "echo", json.RawMessage(`{"x":1}`), false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"receivedMethod":"echo","receivedParams":"{\"x\":1}"}`, string(res))

	_, err = r.Route(context.Background(), "fail", nil, false)
	assert.ErrorIs(t, err, errMockHandler)
}

func TestRouter_Route_UnknownMethod(t *testing.T) {
	r := NewRouter(nil)
	_, err := r.Route(context.Background(), "tools/frobnicate", nil, false)
	assertMCPErrorCode(t, mcperrors.CodeMethodNotFound, err)
	assert.Contains(t, err.Error(), "tools/frobnicate")
}

func TestRouter_Route_Notification(t *testing.T) {
	r := NewRouter(nil)
	var count atomic.Int32
	require.NoError(t, r.AddRoute(Route{Method: "notifications/initialized", NotificationHandler: mockNotificationHandler(false, &count)}))
	require.NoError(t, r.AddRoute(Route{Method: "notifications/bad", NotificationHandler: mockNotificationHandler(true, &count)}))
	require.NoError(t, r.AddRoute(Route{Method: "ping", Handler: mockRequestHandler("ping", false)}))

	res, err := r.Route(context.Background(), "notifications/initialized", nil, true)
	assert.NoError(t, err)
	assert.Nil(t, res)

	_, err = r.Route(context.Background(), "notifications/bad", nil, true)
	assert.ErrorIs(t, err, errMockHandler)
	assert.Equal(t, int32(2), count.Load())

	res, err = r.Route(context.Background(), "ping", nil, true)
	assert.NoError(t, err)
	assert.Nil(t, res, "request handlers invoked as notifications produce no result")

	_, err = r.Route(context.Background(), "notifications/initialized", nil, false)
	assertMCPErrorCode(t, mcperrors.CodeMethodNotFound, err)
}

func TestRouter_Require(t *testing.T) {
	r := NewRouter(nil)
	require.NoError(t, r.AddRoute(Route{Method: "ping", Handler: mockRequestHandler("ping", false)}))

	assert.NoError(t, r.Require("ping"))
	err := r.Require("ping", "tools/list", "prompts/get")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tools/list, prompts/get")
}
