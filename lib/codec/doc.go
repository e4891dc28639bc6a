// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the module's deterministic CBOR configuration.
//
// JSON is the vault wire format: encrypted documents, index entries,
// queries, and vault configurations all travel as JSON because the
// vault protocol is defined in JSON. CBOR is used where bytes must be
// reproducible or compact and never leave this module's control:
//
//   - the signing input of a delegated capability proof (lib/zcap),
//     where the delegator and the verifier must produce identical
//     bytes from the same logical capability
//   - the reference vault service's stored document records
//     (lib/vaultserver)
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
//
// Struct types that appear on the vault wire carry `json` tags only.
// fxamacker/cbor reads `json` tags when `cbor` tags are absent, so one
// tag controls field naming for both formats.
package codec
