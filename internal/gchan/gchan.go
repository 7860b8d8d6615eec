// Package gchan provides small helpers for common channel operations
// that must respect context cancellation.
package gchan

import (
	"context"
	"log/slog"
)

// SendC selects between ctx.Done and sending val to ch.
// If ctx is canceled before the send completes,
// SendC logs the unsent action and reports false.
func SendC[T any](ctx context.Context, log *slog.Logger, ch chan<- T, val T, action string) bool {
	select {
	case <-ctx.Done():
		log.Info(
			"Context canceled before "+action,
			"cause", context.Cause(ctx),
		)
		return false
	case ch <- val:
		return true
	}
}

// RecvC selects between ctx.Done and receiving from ch.
// If ctx is canceled before a value arrives,
// RecvC logs the missed action and reports false.
func RecvC[T any](ctx context.Context, log *slog.Logger, ch <-chan T, action string) (T, bool) {
	select {
	case <-ctx.Done():
		log.Info(
			"Context canceled before "+action,
			"cause", context.Cause(ctx),
		)
		var zero T
		return zero, false
	case val := <-ch:
		return val, true
	}
}

