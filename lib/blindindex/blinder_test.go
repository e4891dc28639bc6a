// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blindindex

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/edv/lib/secret"
)

func TestNewHMACKeyValidation(t *testing.T) {
	short, err := secret.NewFromString("too-short")
	if err != nil {
		t.Fatalf("NewFromString: %v", err)
	}
	defer short.Close()
	if _, err := NewHMACKey("urn:hmac:1", short); err == nil {
		t.Error("NewHMACKey accepted a 9-byte key")
	}

	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	defer key.Close()
	if _, err := NewHMACKey("", key); err == nil {
		t.Error("NewHMACKey accepted an empty id")
	}
}

func TestBLAKE3Key(t *testing.T) {
	material, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	key, err := NewBLAKE3Key("urn:blake3:1", material)
	if err != nil {
		t.Fatalf("NewBLAKE3Key: %v", err)
	}
	defer key.Close()

	if key.Type() != TypeBLAKE3 {
		t.Errorf("Type() = %q, want %q", key.Type(), TypeBLAKE3)
	}
	first, err := key.Sign(context.Background(), []byte(`"value"`))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	second, err := key.Sign(context.Background(), []byte(`"value"`))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if first != second {
		t.Errorf("Sign() not deterministic: %q != %q", first, second)
	}
	if strings.ContainsAny(first, "+/=") {
		t.Errorf("Sign() = %q, want unpadded base64url", first)
	}

	wrongSize, err := secret.NewFromString("sixteen-byte-key")
	if err != nil {
		t.Fatalf("NewFromString: %v", err)
	}
	defer wrongSize.Close()
	if _, err := NewBLAKE3Key("urn:blake3:2", wrongSize); err == nil {
		t.Error("NewBLAKE3Key accepted a 16-byte key")
	}
}

func TestDeriveKey(t *testing.T) {
	seed, err := secret.NewFromString("vault seed material for testing")
	if err != nil {
		t.Fatalf("NewFromString: %v", err)
	}
	defer seed.Close()

	derive := func(info string) *secret.Buffer {
		key, err := DeriveKey(seed, info)
		if err != nil {
			t.Fatalf("DeriveKey(%q): %v", info, err)
		}
		t.Cleanup(func() { key.Close() })
		return key
	}
	first := derive("vault-a")
	again := derive("vault-a")
	other := derive("vault-b")

	if first.Len() != KeySize {
		t.Errorf("Len() = %d, want %d", first.Len(), KeySize)
	}
	if !first.Equal(again) {
		t.Error("DeriveKey is not deterministic")
	}
	if first.Equal(other) {
		t.Error("DeriveKey returned the same key for different info")
	}
}

func TestSaveLoadKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	defer key.Close()

	path := filepath.Join(t.TempDir(), "hmac.key")
	if err := SaveKey(path, key); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}
	loaded, err := LoadKey(path)
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	defer loaded.Close()
	if !loaded.Equal(key) {
		t.Error("loaded key differs from saved key")
	}
}
