// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"runtime"
	"strings"
	"testing"
	"time"
)

// recorder captures Fatalf and stops the calling goroutine the way
// testing.T does.
type recorder struct {
	message string
}

func (r *recorder) Helper() {}

func (r *recorder) Fatalf(format string, args ...any) {
	r.message = fmt.Sprintf(format, args...)
	runtime.Goexit()
}

// run calls fn on its own goroutine and returns the recorded failure,
// empty if fn returned normally.
func run(fn func(t TB)) string {
	r := &recorder{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(r)
	}()
	<-done
	return r.message
}

func TestRequireReceive(t *testing.T) {
	values := make(chan int, 1)
	values <- 7
	if got := RequireReceive(t, values, time.Second, "value"); got != 7 {
		t.Errorf("RequireReceive() = %d, want 7", got)
	}

	failure := run(func(tb TB) {
		RequireReceive(tb, make(chan int), 10*time.Millisecond, "idle channel")
	})
	if !strings.Contains(failure, "idle channel") || !strings.Contains(failure, "nothing received") {
		t.Errorf("timeout failure = %q", failure)
	}

	closed := make(chan int)
	close(closed)
	failure = run(func(tb TB) {
		RequireReceive(tb, closed, time.Second, "closed channel")
	})
	if !strings.Contains(failure, "closed before a value arrived") {
		t.Errorf("closed-channel failure = %q", failure)
	}
}

func TestRequireClosed(t *testing.T) {
	ready := make(chan struct{})
	close(ready)
	if failure := run(func(tb TB) { RequireClosed(tb, ready, time.Second, "ready") }); failure != "" {
		t.Errorf("RequireClosed on a closed channel failed: %q", failure)
	}

	failure := run(func(tb TB) {
		RequireClosed(tb, make(chan struct{}), 10*time.Millisecond, "listener ready")
	})
	if !strings.Contains(failure, "listener ready: channel still open") {
		t.Errorf("timeout failure = %q", failure)
	}
}
