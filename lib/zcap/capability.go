// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package zcap

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNoInvoker is returned when an invocation has no invoker or
	// the invoker has no identifier.
	ErrNoInvoker = errors.New("zcap: invoker with an id is required")

	// ErrInvalidTarget is returned for a capability whose
	// invocationTarget is missing or malformed.
	ErrInvalidTarget = errors.New("zcap: capability invocationTarget is invalid")

	// ErrInvalidSignature is returned when an invocation or
	// delegation signature does not verify.
	ErrInvalidSignature = errors.New("zcap: invalid signature")

	// ErrExpired is returned when a signature or capability is
	// outside its validity window.
	ErrExpired = errors.New("zcap: expired")
)

// Actions used by the vault.
const (
	ActionRead  = "read"
	ActionWrite = "write"
)

// InvocationTarget is the resource a capability authorizes. On the
// wire it is either a URL string or an object {"id": URL, "type": T}.
type InvocationTarget struct {
	ID   string
	Type string
}

func (t InvocationTarget) MarshalJSON() ([]byte, error) {
	if t.Type == "" {
		return json.Marshal(t.ID)
	}
	return json.Marshal(struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}{t.ID, t.Type})
}

func (t *InvocationTarget) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		*t = InvocationTarget{}
		return json.Unmarshal(data, &t.ID)
	}
	var object struct {
		ID   any    `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &object); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	id, ok := object.ID.(string)
	if !ok {
		return fmt.Errorf("%w: id must be a string", ErrInvalidTarget)
	}
	*t = InvocationTarget{ID: id, Type: object.Type}
	return nil
}

// Proof is the delegator's signature over a delegated capability.
type Proof struct {
	Type               string    `json:"type"`
	Created            time.Time `json:"created"`
	VerificationMethod string    `json:"verificationMethod"`
	ProofPurpose       string    `json:"proofPurpose"`
	CapabilityChain    []string  `json:"capabilityChain"`
	ProofValue         string    `json:"proofValue"`
}

// Capability is an authorization capability.
type Capability struct {
	ID               string           `json:"id"`
	InvocationTarget InvocationTarget `json:"invocationTarget"`
	ParentCapability string           `json:"parentCapability,omitempty"`
	AllowedAction    string           `json:"allowedAction,omitempty"`
	Controller       string           `json:"controller,omitempty"`
	Invoker          string           `json:"invoker,omitempty"`
	Delegator        string           `json:"delegator,omitempty"`
	Expires          *time.Time       `json:"expires,omitempty"`
	Proof            *Proof           `json:"proof,omitempty"`
}

// Root returns a reference to the root capability id for target.
func Root(id, target string) *Capability {
	return &Capability{ID: id, InvocationTarget: InvocationTarget{ID: target}}
}

// IsRoot reports whether c is a root capability reference.
func (c *Capability) IsRoot() bool {
	return c.ParentCapability == "" && c.Proof == nil
}

// AllowsAction reports whether c permits action. A capability with no
// allowedAction permits every action.
func (c *Capability) AllowsAction(action string) bool {
	return c.AllowedAction == "" || c.AllowedAction == action
}

// ResolveTarget returns the URL a request authorized by capability
// must address. A nil capability yields defaultURL. A capability whose
// target is empty or not an absolute URL yields ErrInvalidTarget.
func ResolveTarget(capability *Capability, defaultURL string) (string, error) {
	if capability == nil {
		return defaultURL, nil
	}
	target := capability.InvocationTarget.ID
	if target == "" {
		return "", ErrInvalidTarget
	}
	if !strings.Contains(target, "://") && !strings.HasPrefix(target, "urn:") {
		return "", fmt.Errorf("%w: %q is not a URL", ErrInvalidTarget, target)
	}
	return target, nil
}

// Covers reports whether target equals url or is a path prefix of it.
// A target of ".../documents/a" covers ".../documents/a/index" but not
// ".../documents/ab".
func Covers(target, url string) bool {
	if target == "" {
		return false
	}
	return url == target || strings.HasPrefix(url, strings.TrimSuffix(target, "/")+"/")
}
