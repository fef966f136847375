package testutil

import (
	"context"
	"testing"
	"time"
)

// ContextWithTimeout builds a context with a timeout, cancelled automatically
// when the test finishes.
func ContextWithTimeout(t testing.TB, duration time.Duration) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	t.Cleanup(cancel)

	return ctx
}

// ContextWithDeadline builds a context with a deadline, cancelled
// automatically when the test finishes.
func ContextWithDeadline(t testing.TB, deadline time.Time) context.Context {
	t.Helper()

	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	t.Cleanup(cancel)

	return ctx
}

// ContextWithCancel builds a cancellable context, cancelled automatically
// when the test finishes (in addition to whatever the test calls the
// returned cancel for).
func ContextWithCancel(t testing.TB) (context.Context, context.CancelFunc) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return ctx, cancel
}
