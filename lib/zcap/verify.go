// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package zcap

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ClockSkew is the tolerance for signatures created slightly in the
// verifier's future.
const ClockSkew = time.Minute

// VerifiedInvocation is a checked capability invocation.
type VerifiedInvocation struct {
	// KeyID is the invoker's verification method URL.
	KeyID string

	// Capability is the invoked capability. For root invocations only
	// ID is set.
	Capability *Capability
	Action     string
	Created    time.Time
	Expires    time.Time
}

// Invoker returns the DID of the invoker.
func (v *VerifiedInvocation) Invoker() string { return Controller(v.KeyID) }

// Verify checks the capability invocation signature on request. body
// is the request body already read by the caller. The invoker's key
// is taken from its did:key identifier. Verify checks the signature,
// the validity window, and the body digest; deciding whether the
// invoker may use the capability is left to the caller.
func Verify(request *http.Request, body []byte, now time.Time) (*VerifiedInvocation, error) {
	authorization, ok := strings.CutPrefix(request.Header.Get(HeaderAuthorization), "Signature ")
	if !ok {
		return nil, fmt.Errorf("%w: missing Signature authorization", ErrInvalidSignature)
	}
	parameters := parseParameters(authorization)
	keyID := parameters["keyId"]
	if keyID == "" {
		return nil, fmt.Errorf("%w: missing keyId", ErrInvalidSignature)
	}
	created, err := strconv.ParseInt(parameters["created"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed created", ErrInvalidSignature)
	}
	expires, err := strconv.ParseInt(parameters["expires"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed expires", ErrInvalidSignature)
	}
	signature, err := base64.StdEncoding.DecodeString(parameters["signature"])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed signature", ErrInvalidSignature)
	}

	components := strings.Fields(parameters["headers"])
	for _, required := range []string{"(key-id)", "(created)", "(expires)", "(request-target)", "host", "capability-invocation"} {
		if !contains(components, required) {
			return nil, fmt.Errorf("%w: %s is not covered", ErrInvalidSignature, required)
		}
	}
	if len(body) > 0 && !contains(components, "digest") {
		return nil, fmt.Errorf("%w: body digest is not covered", ErrInvalidSignature)
	}

	header := request.Header.Clone()
	header.Set(HeaderHost, request.Host)
	message, err := signingString(components, signatureParameters{
		keyID:         keyID,
		created:       created,
		expires:       expires,
		requestTarget: requestTarget(request.Method, request.URL),
	}, header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	public, err := ParseDIDKey(keyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !ed25519.Verify(public, []byte(message), signature) {
		return nil, ErrInvalidSignature
	}

	createdAt, expiresAt := time.Unix(created, 0), time.Unix(expires, 0)
	if createdAt.After(now.Add(ClockSkew)) {
		return nil, fmt.Errorf("%w: signature created in the future", ErrExpired)
	}
	if !now.Before(expiresAt) {
		return nil, fmt.Errorf("%w: signature expired at %s", ErrExpired, expiresAt.UTC().Format(time.RFC3339))
	}
	if len(body) > 0 && request.Header.Get(HeaderDigest) != Digest(body) {
		return nil, fmt.Errorf("%w: body digest mismatch", ErrInvalidSignature)
	}

	invocation, ok := strings.CutPrefix(request.Header.Get(HeaderInvocation), "zcap ")
	if !ok {
		return nil, fmt.Errorf("%w: malformed capability-invocation", ErrInvalidSignature)
	}
	invocationParameters := parseParameters(invocation)
	verified := &VerifiedInvocation{
		KeyID:   keyID,
		Action:  invocationParameters["action"],
		Created: createdAt,
		Expires: expiresAt,
	}
	if verified.Action == "" {
		return nil, fmt.Errorf("%w: invocation has no action", ErrInvalidSignature)
	}
	switch {
	case invocationParameters["id"] != "":
		verified.Capability = &Capability{ID: invocationParameters["id"]}
	case invocationParameters["capability"] != "":
		verified.Capability, err = decodeCapability(invocationParameters["capability"])
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: invocation names no capability", ErrInvalidSignature)
	}
	return verified, nil
}

// parseParameters parses a comma-separated list of key="value" pairs.
// Values may contain commas and spaces inside their quotes.
func parseParameters(input string) map[string]string {
	parameters := make(map[string]string)
	for len(input) > 0 {
		input = strings.TrimLeft(input, " ,")
		key, rest, found := strings.Cut(input, "=")
		if !found {
			break
		}
		key = strings.TrimSpace(key)
		if strings.HasPrefix(rest, `"`) {
			value, remainder, closed := strings.Cut(rest[1:], `"`)
			if !closed {
				break
			}
			parameters[key] = value
			input = remainder
			continue
		}
		value, remainder, _ := strings.Cut(rest, ",")
		parameters[key] = strings.TrimSpace(value)
		input = remainder
	}
	return parameters
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
