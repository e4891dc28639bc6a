// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blindindex

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/hkdf"

	"github.com/bureau-foundation/edv/lib/secret"
)

// Blinder type names recorded in index entries.
const (
	TypeHMAC   = "Sha256HmacKey2019"
	TypeBLAKE3 = "Blake3KeyedHash2024"
)

// KeySize is the size of generated and derived blinding keys.
const KeySize = 32

// minHMACKeySize rejects keys too short to be unguessable.
const minHMACKeySize = 16

// Blinder is a keyed one-way function producing blind tokens.
type Blinder interface {
	ID() string
	Type() string

	// Sign returns the base64url (unpadded) token for data.
	Sign(ctx context.Context, data []byte) (string, error)
}

// Ref returns the reference an index entry records for blinder.
func Ref(blinder Blinder) KeyRef {
	return KeyRef{ID: blinder.ID(), Type: blinder.Type()}
}

// HMACKey blinds with HMAC-SHA256.
type HMACKey struct {
	id  string
	key *secret.Buffer
}

// NewHMACKey returns an HMAC blinder. The blinder takes ownership of
// key; call Close to release it.
func NewHMACKey(id string, key *secret.Buffer) (*HMACKey, error) {
	if id == "" {
		return nil, fmt.Errorf("blindindex: key id is required")
	}
	if key.Len() < minHMACKeySize {
		return nil, fmt.Errorf("blindindex: HMAC key has %d bytes, need at least %d", key.Len(), minHMACKeySize)
	}
	return &HMACKey{id: id, key: key}, nil
}

func (k *HMACKey) ID() string   { return k.id }
func (k *HMACKey) Type() string { return TypeHMAC }

func (k *HMACKey) Sign(_ context.Context, data []byte) (string, error) {
	mac := hmac.New(sha256.New, k.key.Bytes())
	mac.Write(data)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Close releases the key material.
func (k *HMACKey) Close() error { return k.key.Close() }

// BLAKE3Key blinds with BLAKE3 in keyed-hash mode.
type BLAKE3Key struct {
	id  string
	key *secret.Buffer
}

// NewBLAKE3Key returns a BLAKE3 blinder. The key must be exactly
// KeySize bytes. The blinder takes ownership of key.
func NewBLAKE3Key(id string, key *secret.Buffer) (*BLAKE3Key, error) {
	if id == "" {
		return nil, fmt.Errorf("blindindex: key id is required")
	}
	if key.Len() != KeySize {
		return nil, fmt.Errorf("blindindex: BLAKE3 key has %d bytes, want %d", key.Len(), KeySize)
	}
	return &BLAKE3Key{id: id, key: key}, nil
}

func (k *BLAKE3Key) ID() string   { return k.id }
func (k *BLAKE3Key) Type() string { return TypeBLAKE3 }

func (k *BLAKE3Key) Sign(_ context.Context, data []byte) (string, error) {
	hasher, err := blake3.NewKeyed(k.key.Bytes())
	if err != nil {
		return "", fmt.Errorf("blindindex: %w", err)
	}
	hasher.Write(data)
	return base64.RawURLEncoding.EncodeToString(hasher.Sum(nil)), nil
}

// Close releases the key material.
func (k *BLAKE3Key) Close() error { return k.key.Close() }

// GenerateKey returns KeySize random bytes in a secret buffer.
func GenerateKey() (*secret.Buffer, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("blindindex: generating key: %w", err)
	}
	return secret.NewFromBytes(key)
}

// DeriveKey derives a KeySize blinding key from seed with HKDF-SHA256.
// Distinct info strings yield independent keys, so one seed can back
// several blinders (for example one per vault).
func DeriveKey(seed *secret.Buffer, info string) (*secret.Buffer, error) {
	key := make([]byte, KeySize)
	reader := hkdf.New(sha256.New, seed.Bytes(), nil, []byte(info))
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("blindindex: deriving key: %w", err)
	}
	return secret.NewFromBytes(key)
}

// LoadKey reads a hex-encoded key file.
func LoadKey(path string) (*secret.Buffer, error) {
	encoded, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("blindindex: reading key: %w", err)
	}
	defer encoded.Close()

	key := make([]byte, hex.DecodedLen(encoded.Len()))
	if _, err := hex.Decode(key, encoded.Bytes()); err != nil {
		secret.Zero(key)
		return nil, fmt.Errorf("blindindex: %s is not a hex key: %w", path, err)
	}
	return secret.NewFromBytes(key)
}

// SaveKey writes key to path hex-encoded with mode 0600.
func SaveKey(path string, key *secret.Buffer) error {
	encoded := make([]byte, hex.EncodedLen(key.Len())+1)
	hex.Encode(encoded, key.Bytes())
	encoded[len(encoded)-1] = '\n'
	defer secret.Zero(encoded)

	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return fmt.Errorf("blindindex: writing key: %w", err)
	}
	return nil
}
