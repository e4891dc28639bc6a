// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"time"
)

// TB is the subset of testing.TB the wait helpers use.
type TB interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive waits up to timeout for a value on ch and returns it.
// A closed channel or an elapsed timeout fails the test; what names
// the awaited event in the failure.
//
//	err := testutil.RequireReceive(t, served, 5*time.Second, "serve result")
func RequireReceive[T any](t TB, ch <-chan T, timeout time.Duration, what string) T {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatalf("%s: channel closed before a value arrived", what)
		}
		return value
	case <-timer.C:
		t.Fatalf("%s: nothing received within %v", what, timeout)
	}
	panic("unreachable")
}

// RequireClosed waits up to timeout for ch to close, as with a ready
// channel.
//
//	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "server ready")
func RequireClosed(t TB, ch <-chan struct{}, timeout time.Duration, what string) {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
	case <-timer.C:
		t.Fatalf("%s: channel still open after %v", what, timeout)
	}
}
