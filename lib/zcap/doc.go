// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package zcap authorizes vault requests with capability invocations.
//
// Every vault request is signed rather than carrying a bearer token.
// The signature binds the request method, target URL, host, content
// type, and body digest to an authorization [Capability] and to the
// identity of the [Invoker] making the call.
//
// A capability is either a root capability, referenced by ID alone
// (the vault derives it from its configuration), or a delegated
// capability carrying a proof signed by its delegator. Root
// invocations send the capability ID; delegated invocations embed the
// whole capability, gzipped and base64url-encoded, in the
// capability-invocation header.
//
// [HTTPSigner] produces the request headers and is the module's
// [CapabilitySigner]. [Verify] is its server-side counterpart.
// [Delegate] and [VerifyDelegation] create and check delegated
// capabilities; their proof is an Ed25519 signature over the
// capability's deterministic CBOR encoding (lib/codec).
//
// Invokers are identified by did:key identifiers, which embed the
// Ed25519 public key, so a verifier needs no key registry to check an
// invocation signature.
package zcap
