package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvoiceTimeout is returned when an invoice exceeds its deadline.
var ErrInvoiceTimeout = errors.New("invoice deadline exceeded")

// InvoiceTimeout sets a deadline on each invoice. The handler runs on the
// caller's goroutine and observes the deadline at its next driver call.
// A non-positive timeout disables the deadline.
func InvoiceTimeout(timeout time.Duration) Middleware {
	return func(next Handler) Handler {
		if timeout <= 0 {
			return next
		}
		return func(ctx context.Context, invoiceID string) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			err := next(ctx, invoiceID)
			if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w after %s: %w", ErrInvoiceTimeout, timeout, err)
			}
			return err
		}
	}
}
