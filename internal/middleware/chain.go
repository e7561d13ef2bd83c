// Package middleware composes the HTTP middleware stack for the event
// stream server.
package middleware

import (
	"net/http"

	"github.com/actionpipe/actionpipe/internal/stream"
)

// Middleware wraps an HTTP handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// OriginValidator decides whether a cross-origin request is allowed.
type OriginValidator = stream.OriginValidator

// Chain holds an ordered middleware stack. The first middleware added is
// the outermost wrapper, so it sees each request first.
type Chain struct {
	middlewares []Middleware
}

// NewChain builds a chain from the given middlewares.
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: middlewares}
}

// Append adds a middleware to the inner end of the chain.
func (c *Chain) Append(m Middleware) {
	c.middlewares = append(c.middlewares, m)
}

// Len returns the number of middlewares in the chain.
func (c *Chain) Len() int {
	return len(c.middlewares)
}

// Apply wraps the handler with the full chain. A nil or empty chain returns
// the handler unchanged.
func (c *Chain) Apply(handler http.Handler) http.Handler {
	if c == nil {
		return handler
	}
	wrapped := handler
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		wrapped = c.middlewares[i](wrapped)
	}
	return wrapped
}
