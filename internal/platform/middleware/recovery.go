package middleware

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/rs/zerolog"
)

// ErrPanic wraps a panic recovered from an invoice handler.
var ErrPanic = errors.New("invoice handler panicked")

func Recovery(logger zerolog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, invoiceID string) (err error) {
			defer func() {
				if r := recover(); r != nil {
					var stack [4096]byte
					n := runtime.Stack(stack[:], false)

					logger.Error().
						Str("invoice", invoiceID).
						Str("panic", fmt.Sprintf("%v", r)).
						Str("stack", string(stack[:n])).
						Msg("panic recovered")

					err = fmt.Errorf("%w: %v", ErrPanic, r)
				}
			}()
			return next(ctx, invoiceID)
		}
	}
}
