// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package edv

import (
	"github.com/bureau-foundation/edv/lib/blindindex"
	"github.com/bureau-foundation/edv/lib/envelope"
)

// Document is a vault document as the application sees it: the
// encrypted record plus its decrypted content and meta.
//
// Values returned by the client are fresh; the client never mutates a
// Document passed to it.
type Document struct {
	ID       string             `json:"id"`
	Sequence uint64             `json:"sequence"`
	Indexed  []blindindex.Entry `json:"indexed,omitempty"`

	// Envelope is the encrypted payload last written or read. It is
	// nil for a document that has never been stored.
	Envelope *envelope.Envelope `json:"jwe,omitempty"`

	Content map[string]any `json:"content"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Encrypted returns the wire record of d without its plaintext.
func (d *Document) Encrypted() EncryptedDocument {
	return EncryptedDocument{ID: d.ID, Sequence: d.Sequence, Indexed: d.Indexed, JWE: d.Envelope}
}

// EncryptedDocument is the record a vault stores and returns.
type EncryptedDocument struct {
	ID       string             `json:"id"`
	Sequence uint64             `json:"sequence"`
	Indexed  []blindindex.Entry `json:"indexed"`
	JWE      *envelope.Envelope `json:"jwe"`
}

// FindQuery selects documents by blinded attributes. Exactly one of
// Equals or Has must be set.
type FindQuery struct {
	Equals blindindex.EqualsFilter
	Has    blindindex.AttributeSelector
}

// KeyReference names a key held outside the vault.
type KeyReference struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// VaultStatus is the lifecycle state of a vault.
type VaultStatus string

const (
	StatusActive  VaultStatus = "active"
	StatusDeleted VaultStatus = "deleted"
)

// VaultConfig is the configuration record of a vault.
type VaultConfig struct {
	// ID is the vault URL, assigned by the server on creation.
	ID       string `json:"id,omitempty"`
	Sequence uint64 `json:"sequence"`

	// Controller is the DID allowed to invoke the vault's root
	// capabilities.
	Controller string `json:"controller"`

	// ReferenceID is an optional controller-scoped name, unique per
	// controller.
	ReferenceID string `json:"referenceId,omitempty"`

	KeyAgreementKey *KeyReference `json:"keyAgreementKey,omitempty"`
	HMAC            *KeyReference `json:"hmac,omitempty"`
	Status          VaultStatus   `json:"status,omitempty"`
}

// ConfigQuery filters FindConfigs. Controller is required.
type ConfigQuery struct {
	Controller  string
	ReferenceID string

	// After is the id of the last configuration of the previous page.
	After string
	Limit int
}

// PatchOperation is one RFC 6902 JSON Patch operation.
type PatchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	From  string `json:"from,omitempty"`
	Value any    `json:"value,omitempty"`
}

// ConfigPatch is the body of a configuration update. Sequence is the
// configuration's next sequence.
type ConfigPatch struct {
	Sequence uint64           `json:"sequence"`
	Patch    []PatchOperation `json:"patch"`
}

// StatusChange is the body of a vault status change.
type StatusChange struct {
	Status VaultStatus `json:"status"`
}
