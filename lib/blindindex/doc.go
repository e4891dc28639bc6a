// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package blindindex derives searchable tokens from document
// attributes without revealing them to the vault.
//
// A [Blinder] is a keyed pseudo-random function identified by an ID
// and a type. [HMACKey] (HMAC-SHA256) is the standard blinder;
// [BLAKE3Key] (BLAKE3 keyed hash) is an alternative with the same
// contract. The vault stores only blinder references, never keys.
//
// An [Indexer] holds the set of declared attributes. For a document it
// produces an [Entry]: one {name, value} token pair per declared
// attribute present in the document, where
//
//	name  = Sign(canonical(attributeName))
//	value = Sign(canonical(attributeValue))
//
// and canonical is JSON with lexicographically sorted object keys and
// no HTML escaping. Tokens are deterministic for a given key, which is
// what makes equality search possible, and unrelated across keys.
//
// Attribute names are dotted paths rooted at the document payload:
// "content.email" or "meta.type". A name without a "content." or
// "meta." root is looked up in content first and then in meta. Array
// values produce one token pair per element so that equality matches
// any element.
//
// [Indexer.BuildQuery] turns an equality filter ([Conjunction] or
// [Disjunction]) or a presence filter ([Single] or [Multiple]) into a
// [Query] over blinded tokens. Supplying both filters is an error.
package blindindex
