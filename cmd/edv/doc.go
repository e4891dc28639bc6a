// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Edv is a command-line client for encrypted data vaults.
//
// It generates key material, administers vault configurations, and
// reads and writes encrypted documents. Documents are encrypted and
// blind-indexed locally; the vault only ever sees ciphertext and
// blind tokens.
//
// Every command except keygen and version reads an edv.yaml file named
// by --config or EDV_CONFIG. See lib/config for its format.
//
//	edv keygen --dir ~/.edv
//	edv vault create --reference-id primary
//	edv doc insert contact.jsonc
//	edv doc find --equals content.email=alice@example.com
package main
