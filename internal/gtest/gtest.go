// Package gtest provides test helpers for channel-heavy tests.
package gtest

import (
	"testing"
	"time"
)

// ScaleMs returns a duration of the given milliseconds,
// as a single point to adjust if CI machines prove slow.
func ScaleMs(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// ReceiveSoon receives from ch or fails the test after a timeout.
func ReceiveSoon[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	timer := time.NewTimer(ScaleMs(10_000))
	defer timer.Stop()

	select {
	case v := <-ch:
		return v
	case <-timer.C:
		t.Fatal("did not receive value in time")
		panic("unreachable")
	}
}

// NotSending asserts that ch has no value ready.
func NotSending[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	select {
	case <-ch:
		t.Fatal("channel unexpectedly had a value ready")
	default:
	}
}
