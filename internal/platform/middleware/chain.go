// Package middleware wraps the per-invoice handler of the batch runner with
// logging, panic recovery and a deadline, the same way an HTTP server wraps
// request handlers.
package middleware

import (
	"context"
)

// Handler processes one invoice.
type Handler func(ctx context.Context, invoiceID string) error

// Middleware decorates a Handler.
type Middleware func(next Handler) Handler

// Chain wraps h so that the first middleware is the outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
