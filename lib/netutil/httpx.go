// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides bounded HTTP body I/O shared by the vault
// client and the reference vault service.
//
// Every body this module reads (encrypted documents, query results,
// vault configurations) is JSON of bounded size. Reads are capped so a
// misbehaving peer cannot exhaust memory: responses at
// MaxResponseSize, request bodies at MaxRequestSize.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// MaxResponseSize bounds response body reads. A find over a large
// vault returns many envelopes in one body, so the limit is generous.
const MaxResponseSize int64 = 256 << 20

// MaxRequestSize bounds request body reads on the server side. A
// single encrypted document with its index entries is far smaller.
const MaxRequestSize int64 = 16 << 20

// ReadResponse reads a response body up to MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a response body and JSON-decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := ReadResponse(body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an error response body for use in diagnostics. Read
// errors are ignored; a partial body is still useful.
func ErrorBody(body io.Reader) string {
	data, _ := ReadResponse(body)
	return string(data)
}

// ReadRequest reads a request body up to MaxRequestSize bytes.
// Oversized bodies are an error rather than a silent truncation.
func ReadRequest(request *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(request.Body, MaxRequestSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	if int64(len(data)) > MaxRequestSize {
		return nil, fmt.Errorf("request body exceeds %d bytes", MaxRequestSize)
	}
	return data, nil
}

// DecodeRequest reads a request body with ReadRequest and JSON-decodes
// it into v.
func DecodeRequest(request *http.Request, v any) error {
	data, err := ReadRequest(request)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(writer http.ResponseWriter, status int, v any) error {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	return json.NewEncoder(writer).Encode(v)
}
