// Package middleware provides optional interceptors for gibridge apps.
package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/gibridge/gibridge"
)

// LoggingInterceptor creates an interceptor that logs dispatched
// operations using slog. It logs the start and end of each operation,
// including duration and error status.
func LoggingInterceptor(logger *slog.Logger) gibridge.UnaryInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx context.Context, args map[string]any, handler gibridge.HandlerFunc) (any, error) {
		start := time.Now()

		id, _ := gibridge.OperationFromContext(ctx)
		logger.InfoContext(ctx, "operation started",
			slog.String("operation", id.String()),
		)

		res, err := handler(ctx, args)
		duration := time.Since(start)

		if err != nil {
			logger.ErrorContext(ctx, "operation failed",
				slog.String("operation", id.String()),
				slog.Duration("duration", duration),
				slog.Any("error", err),
			)
		} else {
			logger.InfoContext(ctx, "operation completed",
				slog.String("operation", id.String()),
				slog.Duration("duration", duration),
			)
		}

		return res, err
	}
}
