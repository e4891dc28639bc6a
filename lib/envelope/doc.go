// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package envelope encrypts and decrypts vault document payloads.
//
// A document's plaintext is the JSON object {"content": ..., "meta":
// ...}. The [Codec] serializes that payload and hands it to a [Cipher],
// which produces a multi-recipient [Envelope]: one content encryption
// key wraps to every recipient, and the payload is encrypted once
// under it. The envelope is the only form of the payload that is ever
// stored or transmitted.
//
// Recipients are identified by a (kid, alg) [RecipientHeader]. This
// package owns the recipient list rules the vault client applies
// before encrypting:
//
//   - [SelectRecipients] keeps every recipient of an existing envelope
//     and adds explicit recipients as a set union keyed on (kid, alg)
//   - with no existing recipients and no explicit ones, a configured
//     [KeyAgreementKey] becomes the single default recipient
//   - with neither, encryption fails with [ErrNoRecipients]
//
// Decryption failures of any kind (unknown recipient, wrong key,
// tampered ciphertext, malformed envelope, or a cipher that returns no
// plaintext) surface as [ErrDecryption], never as an empty payload.
//
// The cipher suite itself is pluggable; lib/sealed provides the
// implementation used by this module.
package envelope
