// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
	"time"
)

func TestMarshalDeterministicMapOrder(t *testing.T) {
	first := map[string]any{"zeta": 1, "alpha": 2, "mid": "x"}
	second := map[string]any{"mid": "x", "alpha": 2, "zeta": 1}

	firstBytes, err := Marshal(first)
	if err != nil {
		t.Fatalf("Marshal(first): %v", err)
	}
	secondBytes, err := Marshal(second)
	if err != nil {
		t.Fatalf("Marshal(second): %v", err)
	}
	if !bytes.Equal(firstBytes, secondBytes) {
		t.Errorf("encodings differ:\n  %x\n  %x", firstBytes, secondBytes)
	}
}

func TestUnmarshalAnyUsesStringKeyedMaps(t *testing.T) {
	data, err := Marshal(map[string]any{"content": map[string]any{"k": "v"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	outer, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	inner, ok := outer["content"].(map[string]any)
	if !ok {
		t.Fatalf("content type = %T, want map[string]any", outer["content"])
	}
	if inner["k"] != "v" {
		t.Errorf("content.k = %v, want v", inner["k"])
	}
}

func TestJSONTagsControlFieldNames(t *testing.T) {
	type record struct {
		ID       string    `json:"id"`
		Sequence uint64    `json:"sequence"`
		Expires  time.Time `json:"expires"`
	}
	expires := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	data, err := Marshal(record{ID: "doc1", Sequence: 3, Expires: expires})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded map[string]any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded["id"] != "doc1" {
		t.Errorf("id = %v, want doc1", decoded["id"])
	}
	if decoded["expires"] != "2026-03-01T12:00:00Z" {
		t.Errorf("expires = %v, want RFC 3339 string", decoded["expires"])
	}
}
