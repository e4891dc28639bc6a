// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package edv is a client for Encrypted Data Vaults: remote document
// stores that only ever see ciphertext.
//
// A [Client] encrypts each document's content and meta into a
// multi-recipient envelope (see lib/envelope), derives blind index
// tokens for declared attributes so the vault can answer equality and
// presence queries (see lib/blindindex), and authorizes every request
// with a signed capability invocation (see lib/zcap). The vault stores
// the envelope, the index entries and a per-document sequence number;
// plaintext never leaves the client.
//
// # Sequences
//
// Every document carries a sequence. Insert requires sequence 0.
// Update submits the caller's sequence plus one, and the vault accepts
// it only when that is exactly one more than what it holds. A stale
// update fails with [ErrInvalidState]; the client never retries. To
// recover, Get the document, reapply the change and Update again.
//
// # Configuration precedence
//
// Keys, the blinder, the invoker and recipients can be set once on
// [ClientConfig] or per call through [CallOptions]. A per-call value
// wins over the client default. When neither is set the operation
// fails before any network request with [ErrValidation],
// [ErrRecipient] or [ErrIndexingDisabled].
//
// # Errors
//
// Status codes map to errors per operation: 409 is [ErrDuplicate] on
// Insert but [ErrInvalidState] on Update and UpdateIndex; 404 is
// [ErrNotFound] on Get but a false result on Delete. Other statuses
// surface as [*StatusError].
package edv
