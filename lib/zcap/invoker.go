// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package zcap

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/bureau-foundation/edv/lib/secret"
)

// Invoker is the identity that invokes capabilities.
type Invoker interface {
	// ID returns the verification method identifier (a did:key URL
	// with fragment for Ed25519Invoker).
	ID() string
	Sign(ctx context.Context, data []byte) ([]byte, error)
}

// ed25519Multicodec is the multicodec prefix for an Ed25519 public key.
var ed25519Multicodec = []byte{0xed, 0x01}

// DIDKey returns the did:key identifier for public.
func DIDKey(public ed25519.PublicKey) string {
	return "did:key:" + fingerprint(public)
}

// VerificationMethod returns the did:key verification method URL for
// public: the DID followed by its key fragment.
func VerificationMethod(public ed25519.PublicKey) string {
	return DIDKey(public) + "#" + fingerprint(public)
}

func fingerprint(public ed25519.PublicKey) string {
	return "z" + base58.Encode(append(append([]byte(nil), ed25519Multicodec...), public...))
}

// Controller returns the DID portion of a verification method URL.
func Controller(keyID string) string {
	did, _, _ := strings.Cut(keyID, "#")
	return did
}

// ParseDIDKey extracts the Ed25519 public key from a did:key
// identifier or verification method URL.
func ParseDIDKey(keyID string) (ed25519.PublicKey, error) {
	did := Controller(keyID)
	encoded, ok := strings.CutPrefix(did, "did:key:z")
	if !ok {
		return nil, fmt.Errorf("zcap: %q is not a base58btc did:key", keyID)
	}
	decoded, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("zcap: decoding %q: %w", keyID, err)
	}
	if len(decoded) != len(ed25519Multicodec)+ed25519.PublicKeySize ||
		decoded[0] != ed25519Multicodec[0] || decoded[1] != ed25519Multicodec[1] {
		return nil, fmt.Errorf("zcap: %q is not an Ed25519 did:key", keyID)
	}
	return ed25519.PublicKey(decoded[len(ed25519Multicodec):]), nil
}

// Ed25519Invoker signs invocations with an Ed25519 key. The private
// key lives in a secret.Buffer; call Close to release it.
type Ed25519Invoker struct {
	id      string
	public  ed25519.PublicKey
	private *secret.Buffer
}

// NewEd25519Invoker wraps an Ed25519 private key (64 bytes). The
// invoker takes ownership of private.
func NewEd25519Invoker(private *secret.Buffer) (*Ed25519Invoker, error) {
	if private.Len() != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("zcap: private key has %d bytes, want %d", private.Len(), ed25519.PrivateKeySize)
	}
	key := heapKey(private)
	defer secret.Zero(key)
	public := append(ed25519.PublicKey(nil), key.Public().(ed25519.PublicKey)...)
	return &Ed25519Invoker{id: VerificationMethod(public), public: public, private: private}, nil
}

// GenerateEd25519Invoker creates an invoker with a fresh key.
func GenerateEd25519Invoker() (*Ed25519Invoker, error) {
	_, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("zcap: generating Ed25519 key: %w", err)
	}
	buffer, err := secret.NewFromBytes(private)
	if err != nil {
		return nil, err
	}
	return NewEd25519Invoker(buffer)
}

// LoadEd25519Invoker reads a key file written by SaveEd25519Invoker:
// the 32-byte seed, hex-encoded.
func LoadEd25519Invoker(path string) (*Ed25519Invoker, error) {
	encoded, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("zcap: reading invoker key: %w", err)
	}
	defer encoded.Close()

	seed := make([]byte, hex.DecodedLen(encoded.Len()))
	defer secret.Zero(seed)
	if _, err := hex.Decode(seed, encoded.Bytes()); err != nil {
		return nil, fmt.Errorf("zcap: %s is not a hex seed: %w", path, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("zcap: %s holds %d bytes, want a %d-byte seed", path, len(seed), ed25519.SeedSize)
	}
	private := ed25519.NewKeyFromSeed(seed)
	defer secret.Zero(private)
	buffer, err := secret.NewFromBytes(private)
	if err != nil {
		return nil, err
	}
	return NewEd25519Invoker(buffer)
}

// SaveEd25519Invoker writes the invoker's seed to path (mode 0600) and
// its DID to path.pub (mode 0644).
func SaveEd25519Invoker(path string, invoker *Ed25519Invoker) error {
	key := heapKey(invoker.private)
	defer secret.Zero(key)
	seed := key.Seed()
	encoded := make([]byte, hex.EncodedLen(len(seed))+1)
	hex.Encode(encoded, seed)
	encoded[len(encoded)-1] = '\n'
	defer secret.Zero(encoded)
	secret.Zero(seed)

	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return fmt.Errorf("zcap: writing invoker key: %w", err)
	}
	if err := os.WriteFile(path+".pub", []byte(invoker.DID()+"\n"), 0o644); err != nil {
		return fmt.Errorf("zcap: writing invoker DID: %w", err)
	}
	return nil
}

// ID returns the verification method URL.
func (i *Ed25519Invoker) ID() string { return i.id }

// DID returns the invoker's did:key identifier.
func (i *Ed25519Invoker) DID() string { return DIDKey(i.public) }

// PublicKey returns the invoker's public key.
func (i *Ed25519Invoker) PublicKey() ed25519.PublicKey { return i.public }

// Sign signs data with the invoker's key.
func (i *Ed25519Invoker) Sign(_ context.Context, data []byte) ([]byte, error) {
	key := heapKey(i.private)
	defer secret.Zero(key)
	return ed25519.Sign(key, data), nil
}

// heapKey copies a private key out of locked memory. crypto/ed25519
// caches expanded keys behind weak pointers, which the runtime refuses
// to create for memory outside the Go heap. Callers zero the copy.
func heapKey(private *secret.Buffer) ed25519.PrivateKey {
	return ed25519.PrivateKey(bytes.Clone(private.Bytes()))
}

// Close releases the private key.
func (i *Ed25519Invoker) Close() error { return i.private.Close() }
