// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds entrypoint helpers shared by the edv binaries:
// reporting a fatal error before the structured logger exists, and
// tying the process lifetime to SIGINT and SIGTERM.
package process
