// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"context"
	"errors"
)

var (
	// ErrNoRecipients is returned when encryption has no recipient to
	// wrap the content key for.
	ErrNoRecipients = errors.New("envelope: no recipients")

	// ErrDecryption is returned when an envelope cannot be opened.
	ErrDecryption = errors.New("envelope: decryption failed")
)

// RecipientHeader identifies a key-agreement public key and the
// algorithm used to wrap the content key to it. Two headers name the
// same recipient when both fields match.
type RecipientHeader struct {
	KeyID     string `json:"kid"`
	Algorithm string `json:"alg"`
}

// Recipient is one entry of an envelope's recipient list.
type Recipient struct {
	Header RecipientHeader `json:"header"`

	// EncryptedKey is the content key wrapped to this recipient,
	// base64url without padding.
	EncryptedKey string `json:"encrypted_key,omitempty"`
}

// Envelope is a multi-recipient encrypted payload. All byte fields are
// base64url without padding.
type Envelope struct {
	// Protected is the encoded protected header. Its bytes are the
	// additional authenticated data of the content encryption.
	Protected  string      `json:"protected"`
	Recipients []Recipient `json:"recipients"`
	IV         string      `json:"iv"`
	Ciphertext string      `json:"ciphertext"`
	Tag        string      `json:"tag"`
}

// Headers returns the recipient headers of the envelope in order.
func (e *Envelope) Headers() []RecipientHeader {
	if e == nil {
		return nil
	}
	headers := make([]RecipientHeader, len(e.Recipients))
	for index, recipient := range e.Recipients {
		headers[index] = recipient.Header
	}
	return headers
}

// KeyResolver maps a recipient key ID to its public key material. It
// is consulted only while encrypting.
type KeyResolver interface {
	ResolveKey(ctx context.Context, keyID string) (string, error)
}

// KeyResolverFunc adapts a function to KeyResolver.
type KeyResolverFunc func(ctx context.Context, keyID string) (string, error)

// ResolveKey calls f.
func (f KeyResolverFunc) ResolveKey(ctx context.Context, keyID string) (string, error) {
	return f(ctx, keyID)
}

// KeyAgreementKey is a private key able to unwrap content keys that
// were wrapped to its public half.
type KeyAgreementKey interface {
	ID() string
	Algorithm() string
	UnwrapKey(ctx context.Context, wrapped []byte) ([]byte, error)
}

// Cipher is the cipher suite behind the codec.
//
// DecryptObject may return a nil plaintext with a nil error to signal
// that the key is not able to open the envelope; the codec treats that
// as a decryption failure.
type Cipher interface {
	EncryptObject(ctx context.Context, plaintext []byte, recipients []RecipientHeader, resolver KeyResolver) (*Envelope, error)
	DecryptObject(ctx context.Context, envelope *Envelope, key KeyAgreementKey) ([]byte, error)
}
