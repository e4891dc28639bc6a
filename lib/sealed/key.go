// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/bureau-foundation/edv/lib/secret"
)

// KeyAgreementKey is an age X25519 identity able to unwrap envelope
// content keys. The identity string lives in a secret.Buffer; call
// Close to release it.
type KeyAgreementKey struct {
	id         string
	publicKey  string
	privateKey *secret.Buffer
}

// NewKeyAgreementKey wraps an age identity (AGE-SECRET-KEY-1...). The
// key takes ownership of privateKey. An empty id defaults to the
// public key string, which StaticKeyResolver resolves without a
// mapping.
func NewKeyAgreementKey(id string, privateKey *secret.Buffer) (*KeyAgreementKey, error) {
	identity, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		return nil, fmt.Errorf("sealed: invalid age private key: %w", err)
	}
	publicKey := identity.Recipient().String()
	if id == "" {
		id = publicKey
	}
	return &KeyAgreementKey{id: id, publicKey: publicKey, privateKey: privateKey}, nil
}

// GenerateKeyAgreementKey creates a new random key.
func GenerateKeyAgreementKey(id string) (*KeyAgreementKey, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("sealed: generating age identity: %w", err)
	}
	privateKey, err := secret.NewFromString(identity.String())
	if err != nil {
		return nil, fmt.Errorf("sealed: protecting private key: %w", err)
	}
	return NewKeyAgreementKey(id, privateKey)
}

// LoadKeyAgreementKey reads an age identity file written by
// SaveKeyAgreementKey (or age-keygen; comment lines are skipped).
func LoadKeyAgreementKey(id, path string) (*KeyAgreementKey, error) {
	contents, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("sealed: reading key agreement key: %w", err)
	}
	defer contents.Close()

	for _, line := range strings.Split(contents.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		privateKey, err := secret.NewFromString(line)
		if err != nil {
			return nil, err
		}
		key, err := NewKeyAgreementKey(id, privateKey)
		if err != nil {
			privateKey.Close()
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return key, nil
	}
	return nil, fmt.Errorf("sealed: %s contains no identity", path)
}

// SaveKeyAgreementKey writes the key's identity to path with mode 0600,
// preceded by a comment naming its public key.
func SaveKeyAgreementKey(path string, key *KeyAgreementKey) error {
	var buffer bytes.Buffer
	fmt.Fprintf(&buffer, "# public key: %s\n", key.publicKey)
	buffer.Write(key.privateKey.Bytes())
	buffer.WriteByte('\n')
	defer secret.Zero(buffer.Bytes())

	if err := os.WriteFile(path, buffer.Bytes(), 0o600); err != nil {
		return fmt.Errorf("sealed: writing key agreement key: %w", err)
	}
	return nil
}

// ID returns the key identifier used as the recipient "kid".
func (k *KeyAgreementKey) ID() string { return k.id }

// Algorithm returns Algorithm.
func (k *KeyAgreementKey) Algorithm() string { return Algorithm }

// PublicKey returns the age recipient string for this key.
func (k *KeyAgreementKey) PublicKey() string { return k.publicKey }

// UnwrapKey decrypts a content key wrapped to this key.
func (k *KeyAgreementKey) UnwrapKey(_ context.Context, wrapped []byte) ([]byte, error) {
	identity, err := age.ParseX25519Identity(k.privateKey.String())
	if err != nil {
		return nil, fmt.Errorf("sealed: parsing private key: %w", err)
	}
	reader, err := age.Decrypt(bytes.NewReader(wrapped), identity)
	if err != nil {
		return nil, err
	}
	contentKey, err := io.ReadAll(io.LimitReader(reader, chacha20poly1305.KeySize+1))
	if err != nil {
		return nil, err
	}
	if len(contentKey) != chacha20poly1305.KeySize {
		secret.Zero(contentKey)
		return nil, fmt.Errorf("sealed: unwrapped key has %d bytes, want %d", len(contentKey), chacha20poly1305.KeySize)
	}
	return contentKey, nil
}

// Close releases the private key.
func (k *KeyAgreementKey) Close() error {
	return k.privateKey.Close()
}

// StaticKeyResolver resolves key IDs from a fixed map of key ID to age
// recipient string. A key ID absent from the map that is itself an
// age recipient string resolves to itself.
type StaticKeyResolver map[string]string

// ResolveKey implements envelope.KeyResolver.
func (r StaticKeyResolver) ResolveKey(_ context.Context, keyID string) (string, error) {
	if publicKey, ok := r[keyID]; ok {
		return publicKey, nil
	}
	if _, err := age.ParseX25519Recipient(keyID); err == nil {
		return keyID, nil
	}
	return "", fmt.Errorf("sealed: unknown key %q", keyID)
}
