// Package router dispatches inbound protocol methods to their handlers.
// file: internal/mcp/router/router.go
package router

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/framelink/internal/logging"
	mcperrors "github.com/dkoosis/framelink/internal/mcp/mcp_errors"
)

// Handler answers a request. The returned bytes become the response result.
type Handler func(ctx context.Context, params json.RawMessage) (json.RawMessage, error)

// NotificationHandler processes a notification. No reply is ever produced.
type NotificationHandler func(ctx context.Context, params json.RawMessage) error

// Route maps a method to its handlers. At least one handler must be set.
type Route struct {
	Method              string
	Handler             Handler
	NotificationHandler NotificationHandler
}

// Router is a method dispatch table.
type Router interface {
	// AddRoute registers a route. A method may only be registered once.
	AddRoute(route Route) error
	// Route dispatches a message. Unknown methods fail with a method-not-found error.
	Route(ctx context.Context, method string, params json.RawMessage, isNotification bool) (json.RawMessage, error)
	// GetRoutes returns the registered methods, sorted.
	GetRoutes() []string
	// Require fails unless every listed method has a route.
	Require(methods ...string) error
}

type router struct {
	routes map[string]Route
	mu     sync.RWMutex
	logger logging.Logger
}

// NewRouter creates an empty Router.
func NewRouter(logger logging.Logger) Router {
	return &router{
		routes: make(map[string]Route),
		logger: logging.OrNoop(logger).WithField("component", "router"),
	}
}

func (r *router) AddRoute(route Route) error {
	if route.Method == "" {
		return errors.New("cannot register route with empty method name")
	}
	if route.Handler == nil && route.NotificationHandler == nil {
		return errors.Newf("route for method '%s' must have a handler", route.Method)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.routes[route.Method]; exists {
		r.logger.Warn("Attempted to register duplicate route.", "method", route.Method)
		return errors.Newf("route for method '%s' already registered", route.Method)
	}
	r.routes[route.Method] = route
	r.logger.Debug("Registered route.", "method", route.Method)
	return nil
}

func (r *router) Route(ctx context.Context, method string, params json.RawMessage, isNotification bool) (json.RawMessage, error) {
	r.mu.RLock()
	route, exists := r.routes[method]
	r.mu.RUnlock()

	if !exists {
		r.logger.Debug("Method not found in router.", "method", method)
		return nil, mcperrors.NewMethodNotFoundError(method)
	}

	if isNotification {
		if route.NotificationHandler != nil {
			return nil, route.NotificationHandler(ctx, params)
		}
		// A request method sent as a notification still runs; its result is dropped.
		r.logger.Debug("Notification for request-only method, discarding result.", "method", method)
		_, err := route.Handler(ctx, params)
		return nil, err
	}

	if route.Handler == nil {
		return nil, mcperrors.NewMethodNotFoundError(method)
	}
	return route.Handler(ctx, params)
}

func (r *router) GetRoutes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	methods := make([]string, 0, len(r.routes))
	for method := range r.routes {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return methods
}

func (r *router) Require(methods ...string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var missing []string
	for _, m := range methods {
		if _, ok := r.routes[m]; !ok {
			missing = append(missing, m)
		}
	}
	if len(missing) > 0 {
		return errors.Newf("no route for methods: %s", strings.Join(missing, ", "))
	}
	return nil
}
