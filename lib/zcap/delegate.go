// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package zcap

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/edv/lib/codec"
)

// ProofType is the type recorded on delegation proofs.
const ProofType = "Ed25519Signature2020"

// ProofPurposeDelegation is the proof purpose of a delegation proof.
const ProofPurposeDelegation = "capabilityDelegation"

// DelegateOptions describes a capability to delegate.
type DelegateOptions struct {
	// Parent is the capability being delegated from. For a root
	// capability only ID is needed.
	Parent *Capability

	// Delegator signs the delegation. It must be the invoker of
	// Parent (or the vault controller for a root capability).
	Delegator Invoker

	// Invoker is the DID or verification method of the delegatee.
	Invoker string

	// InvocationTarget narrows the target. Defaults to the parent's
	// target.
	InvocationTarget string

	// AllowedAction restricts the delegatee to one action. Empty
	// inherits the parent's restriction.
	AllowedAction string

	// Expires is when the delegated capability stops being valid.
	// The zero value means no expiry.
	Expires time.Time

	// Now is the proof creation time. Defaults to time.Now().
	Now time.Time
}

// delegationPayload is the signed portion of a delegated capability.
// Field order is irrelevant: codec encodes maps and structs
// deterministically.
type delegationPayload struct {
	ID                 string     `json:"id"`
	InvocationTarget   string     `json:"invocationTarget"`
	ParentCapability   string     `json:"parentCapability"`
	AllowedAction      string     `json:"allowedAction,omitempty"`
	Invoker            string     `json:"invoker"`
	Delegator          string     `json:"delegator"`
	Expires            *time.Time `json:"expires,omitempty"`
	ProofCreated       time.Time  `json:"proofCreated"`
	VerificationMethod string     `json:"verificationMethod"`
	CapabilityChain    []string   `json:"capabilityChain"`
}

// Delegate creates and signs a delegated capability.
func Delegate(ctx context.Context, options DelegateOptions) (*Capability, error) {
	if options.Parent == nil || options.Parent.ID == "" {
		return nil, fmt.Errorf("zcap: parent capability is required")
	}
	if options.Delegator == nil || options.Delegator.ID() == "" {
		return nil, ErrNoInvoker
	}
	if options.Invoker == "" {
		return nil, fmt.Errorf("zcap: delegatee invoker is required")
	}
	target := options.InvocationTarget
	if target == "" {
		target = options.Parent.InvocationTarget.ID
	}
	if target == "" {
		return nil, ErrInvalidTarget
	}
	parentTarget := options.Parent.InvocationTarget.ID
	if parentTarget != "" && !Covers(parentTarget, target) {
		return nil, fmt.Errorf("%w: %q is not within parent target %q", ErrInvalidTarget, target, parentTarget)
	}
	action := options.AllowedAction
	if action == "" {
		action = options.Parent.AllowedAction
	}
	if !options.Parent.AllowsAction(action) {
		return nil, fmt.Errorf("zcap: action %q exceeds parent capability", action)
	}
	now := options.Now
	if now.IsZero() {
		now = time.Now()
	}

	capability := &Capability{
		ID:               "urn:zcap:" + uuid.NewString(),
		InvocationTarget: InvocationTarget{ID: target},
		ParentCapability: options.Parent.ID,
		AllowedAction:    action,
		Invoker:          options.Invoker,
		Delegator:        Controller(options.Delegator.ID()),
	}
	if !options.Expires.IsZero() {
		expires := options.Expires.UTC().Truncate(time.Second)
		capability.Expires = &expires
	}
	chain := []string{options.Parent.ID}
	if options.Parent.Proof != nil {
		chain = append(append([]string(nil), options.Parent.Proof.CapabilityChain...), options.Parent.ID)
	}
	capability.Proof = &Proof{
		Type:               ProofType,
		Created:            now.UTC().Truncate(time.Second),
		VerificationMethod: options.Delegator.ID(),
		ProofPurpose:       ProofPurposeDelegation,
		CapabilityChain:    chain,
	}

	payload, err := codec.Marshal(newDelegationPayload(capability))
	if err != nil {
		return nil, fmt.Errorf("zcap: encoding delegation payload: %w", err)
	}
	signature, err := options.Delegator.Sign(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("zcap: signing delegation: %w", err)
	}
	capability.Proof.ProofValue = base64.RawURLEncoding.EncodeToString(signature)
	return capability, nil
}

// VerifyDelegation checks a delegated capability's proof and expiry
// at now. It does not walk the capability chain; the caller decides
// whether the delegator was entitled to delegate.
func VerifyDelegation(capability *Capability, now time.Time) error {
	if capability == nil || capability.Proof == nil {
		return fmt.Errorf("%w: capability has no proof", ErrInvalidSignature)
	}
	proof := capability.Proof
	if proof.Type != ProofType || proof.ProofPurpose != ProofPurposeDelegation {
		return fmt.Errorf("%w: unsupported proof %s/%s", ErrInvalidSignature, proof.Type, proof.ProofPurpose)
	}
	if capability.ParentCapability == "" || len(proof.CapabilityChain) == 0 ||
		proof.CapabilityChain[len(proof.CapabilityChain)-1] != capability.ParentCapability {
		return fmt.Errorf("%w: capability chain does not end at parent", ErrInvalidSignature)
	}
	if Controller(proof.VerificationMethod) != capability.Delegator {
		return fmt.Errorf("%w: proof not made by delegator", ErrInvalidSignature)
	}
	public, err := ParseDIDKey(proof.VerificationMethod)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	signature, err := base64.RawURLEncoding.DecodeString(proof.ProofValue)
	if err != nil {
		return fmt.Errorf("%w: malformed proof value", ErrInvalidSignature)
	}
	payload, err := codec.Marshal(newDelegationPayload(capability))
	if err != nil {
		return fmt.Errorf("zcap: encoding delegation payload: %w", err)
	}
	if !ed25519.Verify(public, payload, signature) {
		return ErrInvalidSignature
	}
	if capability.Expires != nil && !now.Before(*capability.Expires) {
		return fmt.Errorf("%w: capability %s expired", ErrExpired, capability.ID)
	}
	return nil
}

func newDelegationPayload(capability *Capability) delegationPayload {
	return delegationPayload{
		ID:                 capability.ID,
		InvocationTarget:   capability.InvocationTarget.ID,
		ParentCapability:   capability.ParentCapability,
		AllowedAction:      capability.AllowedAction,
		Invoker:            capability.Invoker,
		Delegator:          capability.Delegator,
		Expires:            capability.Expires,
		ProofCreated:       capability.Proof.Created,
		VerificationMethod: capability.Proof.VerificationMethod,
		CapabilityChain:    capability.Proof.CapabilityChain,
	}
}
