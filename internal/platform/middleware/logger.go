package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

func Logger(logger zerolog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, invoiceID string) error {
			start := time.Now()
			logger.Info().Str("invoice", invoiceID).Msg("invoice started")

			err := next(ctx, invoiceID)

			evt := logger.Info()
			if err != nil {
				evt = logger.Error().Err(err)
			}
			evt.
				Str("invoice", invoiceID).
				Dur("latency", time.Since(start)).
				Msg("invoice finished")

			return err
		}
	}
}
