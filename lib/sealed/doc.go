// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed is the cipher suite behind vault document envelopes.
//
// [Cipher] implements envelope.Cipher:
//
//   - a fresh 256-bit content key per envelope
//   - payload encrypted once with XChaCha20-Poly1305, the encoded
//     protected header as additional authenticated data
//   - the content key wrapped to each recipient with age X25519
//     (filippo.io/age), one age file per recipient
//   - optional zstd or lz4 compression of the payload before
//     encryption, recorded in the protected header's "zip" field
//
// Recipients use the algorithm name [Algorithm]. Their public key
// material is an age recipient string (age1...) obtained from an
// envelope.KeyResolver; [StaticKeyResolver] serves fixed mappings.
//
// [KeyAgreementKey] implements envelope.KeyAgreementKey over an age
// X25519 identity held in a secret.Buffer. Keys are generated with
// [GenerateKeyAgreementKey] and persisted with [SaveKeyAgreementKey]
// and [LoadKeyAgreementKey].
package sealed
