// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package vaultserver is a reference Encrypted Data Vault service: an
// http.Handler that stores encrypted documents, their blind index
// entries and vault configurations in SQLite.
//
// It never holds a key. It enforces the parts of the vault contract
// that need no plaintext:
//
//   - Sequences: an insert must carry sequence 0; an update is
//     accepted only when its sequence is the stored one plus one, or
//     when the document does not exist yet.
//   - Unique attributes: a write whose unique blinded attribute (name
//     and value token under the same HMAC key) already belongs to
//     another document is rejected with 409.
//   - Authorization: document, index, query and authorization
//     requests must carry a capability invocation signed by the vault
//     controller under a root capability of the vault, or by the
//     invoker of an enabled delegated capability whose target covers
//     the request.
//
// Vault configuration calls (create, find, get, patch, status) are not
// authenticated. The service is meant for development and tests; put
// it behind an authenticating proxy before exposing it.
//
// # Routes
//
//	POST   /edvs                                  create vault
//	GET    /edvs?controller=&referenceId=         find vaults
//	GET    /edvs/{vault}                          get configuration
//	PATCH  /edvs/{vault}                          JSON-patch configuration
//	POST   /edvs/{vault}/status                   set status
//	POST   /edvs/{vault}/documents                insert
//	GET    /edvs/{vault}/documents/{document}     get
//	POST   /edvs/{vault}/documents/{document}     update (upsert)
//	DELETE /edvs/{vault}/documents/{document}     delete
//	POST   /edvs/{vault}/documents/{document}/index  replace one index entry
//	POST   /edvs/{vault}/query                    blinded query
//	POST   /edvs/{vault}/authorizations           enable delegated capability
//	DELETE /edvs/{vault}/authorizations?id=       disable capability
package vaultserver
