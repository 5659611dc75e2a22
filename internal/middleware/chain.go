// Package middleware composes the inbound message pipeline of a protocol engine.
// file: internal/middleware/chain.go
package middleware

import (
	mcptypes "github.com/dkoosis/framelink/internal/mcp_types"
)

type middlewareChain struct {
	handler     mcptypes.MessageHandler
	middlewares []mcptypes.MiddlewareFunc
	composed    mcptypes.MessageHandler
}

// NewChain creates a chain ending in finalHandler.
func NewChain(finalHandler mcptypes.MessageHandler) mcptypes.Chain {
	return &middlewareChain{handler: finalHandler}
}

// Use appends middleware. Once Handler has been called, Use starts a new chain over the
// same final handler carrying the middleware added so far.
func (c *middlewareChain) Use(middleware mcptypes.MiddlewareFunc) mcptypes.Chain {
	if c.composed != nil {
		next := &middlewareChain{handler: c.handler}
		next.middlewares = append(append(next.middlewares, c.middlewares...), middleware)
		return next
	}
	c.middlewares = append(c.middlewares, middleware)
	return c
}

// Handler composes the chain. The first middleware added runs outermost.
func (c *middlewareChain) Handler() mcptypes.MessageHandler {
	if c.composed != nil {
		return c.composed
	}
	handler := c.handler
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}
	c.composed = handler
	return handler
}
