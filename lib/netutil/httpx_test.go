// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDecodeResponse(t *testing.T) {
	t.Run("valid JSON", func(t *testing.T) {
		var result struct {
			ID       string `json:"id"`
			Sequence int    `json:"sequence"`
		}
		if err := DecodeResponse(strings.NewReader(`{"id":"z1","sequence":3}`), &result); err != nil {
			t.Fatalf("DecodeResponse: %v", err)
		}
		if result.ID != "z1" || result.Sequence != 3 {
			t.Errorf("result = %+v, want {z1 3}", result)
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		if err := DecodeResponse(strings.NewReader("not json"), &struct{}{}); err == nil {
			t.Fatal("expected error for invalid JSON")
		}
	})

	t.Run("read error propagates", func(t *testing.T) {
		if err := DecodeResponse(&failReader{}, &struct{}{}); err == nil {
			t.Fatal("expected error from failing reader")
		}
	})
}

func TestErrorBody(t *testing.T) {
	if got := ErrorBody(strings.NewReader("conflict")); got != "conflict" {
		t.Errorf("ErrorBody() = %q, want %q", got, "conflict")
	}
	if got := ErrorBody(&failReader{}); got != "" {
		t.Errorf("ErrorBody(failing) = %q, want empty", got)
	}
}

func TestDecodeRequest(t *testing.T) {
	t.Run("within limit", func(t *testing.T) {
		request := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"index":"urn:hmac:1"}`))
		var query map[string]string
		if err := DecodeRequest(request, &query); err != nil {
			t.Fatalf("DecodeRequest: %v", err)
		}
		if query["index"] != "urn:hmac:1" {
			t.Errorf("index = %q, want urn:hmac:1", query["index"])
		}
	})

	t.Run("oversized", func(t *testing.T) {
		body := bytes.Repeat([]byte(" "), int(MaxRequestSize)+1)
		request := httptest.NewRequest(http.MethodPost, "/documents", bytes.NewReader(body))
		if err := DecodeRequest(request, &struct{}{}); err == nil {
			t.Fatal("expected error for oversized body")
		}
	})
}

func TestWriteJSON(t *testing.T) {
	recorder := httptest.NewRecorder()
	if err := WriteJSON(recorder, http.StatusCreated, map[string]int{"sequence": 0}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if recorder.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", recorder.Code, http.StatusCreated)
	}
	if got := recorder.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
	var decoded map[string]int
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded["sequence"] != 0 {
		t.Errorf("sequence = %d, want 0", decoded["sequence"])
	}
}

type failReader struct{}

func (*failReader) Read([]byte) (int, error) {
	return 0, fmt.Errorf("simulated read failure")
}
