// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the edv binaries.
//
// [GitCommit], [GitDirty], [BuildTime] and [Version] are injected with
// -ldflags -X. When a binary is built without them (go install, test
// runs) [Commit] falls back to the VCS revision the Go toolchain
// embeds, so --version output still identifies the source.
//
//	edv --version        -> "edv 0.1.0-dev (abc1234, 2026-...)"
//	edv version --full   -> Info plus the Go version and platform
package version
