// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the current time for testability.
//
// Capability invocation signatures carry created and expires
// timestamps, and verifiers reject signatures outside that window.
// Production code injects [Real]; tests inject [Fake] and move time
// explicitly with [FakeClock.Advance] or [FakeClock.Set] so that
// signatures and expiry checks are reproducible.
package clock
