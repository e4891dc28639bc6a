// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive] and [RequireClosed] bound a wait on a channel, so a
// test blocked on a server goroutine fails with a message instead of
// hanging.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation, such as vault reference ids and document names that
// must not collide between subtests sharing a server.
//
// [WriteFile] and [ReadFile] handle fixture files for command tests.
//
// All helpers call t.Fatalf on failure rather than returning errors.
package testutil
