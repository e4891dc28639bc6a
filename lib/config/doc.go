// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the edv
// command-line client.
//
// Configuration is loaded from a single file specified by either the
// EDV_CONFIG environment variable (via [Load]) or a --config flag (via
// [LoadFile]). There are no fallbacks, no ~/.config discovery, and no
// automatic file search.
//
// The file names the vault, the service base URL, and the paths of
// the key files the client needs:
//
//	vault: https://vault.example/edvs/z19uMCiPNET4YbcPpBcab5mEE
//	server: https://vault.example
//	keys:
//	  key_agreement: ${HOME}/.edv/kak.age
//	  hmac: ${HOME}/.edv/hmac.key
//	  hmac_id: urn:edv:hmac:primary
//	  invoker: ${HOME}/.edv/invoker.key
//	index:
//	  - attribute: content.email
//	    unique: true
//	compression: zstd
//	timeout: 30s
//
// Variable expansion is performed on URL and path fields after
// loading: ${HOME} and ${VAR:-default} patterns are expanded. No
// other environment variables override config values.
//
// This package depends on no other packages of this module.
package config
