// Package testutil provides testing utilities for flashdesk tests: a
// scriptable in-memory gateway with call counters and a polling helper for
// asynchronous assertions.
package testutil

import (
	"testing"
	"time"
)

// Eventually polls cond every few milliseconds until it returns true or
// timeout elapses, failing the test with msg on timeout.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s: %s", timeout, msg)
	}
}

// Never asserts that cond stays false for the whole window.
func Never(t *testing.T, window time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		if cond() {
			t.Fatalf("condition unexpectedly met: %s", msg)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
