// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds key material outside the Go heap.
//
// Blinding keys, age identities, and capability signing keys are the
// only values in this module whose disclosure defeats the vault's
// confidentiality, so they live in a [Buffer]: an anonymous mmap region
// locked into RAM (mlock), excluded from core dumps (MADV_DONTDUMP),
// and zeroed on Close.
//
// Constructors:
//
//   - [New] allocates a zero-filled buffer of a given size
//   - [NewFromBytes] copies into protected memory and zeros the source
//   - [NewFromString] copies a string (for tests and fixed fixtures)
//   - [ReadFromPath] reads a key file or stdin and trims whitespace
//
// After Close, any access panics. Close is idempotent.
package secret
