// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vaultserver

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bureau-foundation/edv/lib/edv"
	"github.com/bureau-foundation/edv/lib/netutil"
	"github.com/bureau-foundation/edv/lib/zcap"
)

// maxChainDepth bounds how many enabled capabilities a delegation
// chain may pass through.
const maxChainDepth = 8

// authorizedCall is a request that passed authorization.
type authorizedCall struct {
	vault      string
	config     edv.VaultConfig
	body       []byte
	invocation *zcap.VerifiedInvocation
}

// authorize loads the vault, verifies the capability invocation on
// request and checks that it grants action on the request URL. On
// failure it writes the response and returns false.
func (s *Server) authorize(writer http.ResponseWriter, request *http.Request, action string) (*authorizedCall, bool) {
	call, ok := s.verifyInvocation(writer, request, action, false)
	if !ok {
		return nil, false
	}
	requestURL := s.publicURL(request) + request.URL.EscapedPath()
	if err := s.authorizeCapability(request, call, requestURL, action); err != nil {
		s.reject(writer, call, err)
		return nil, false
	}
	return call, true
}

// authorizeController admits only the vault controller invoking the
// vault's own root capability, whose id and target are the vault id.
// Configuration and status changes go through here; delegated
// capabilities never reach them. A deleted vault is still loaded so
// its controller can restore it.
func (s *Server) authorizeController(writer http.ResponseWriter, request *http.Request) (*authorizedCall, bool) {
	call, ok := s.verifyInvocation(writer, request, zcap.ActionWrite, true)
	if !ok {
		return nil, false
	}
	capability := call.invocation.Capability
	requestURL := s.publicURL(request) + request.URL.EscapedPath()
	var err error
	switch {
	case !capability.IsRoot() || capability.ID != call.config.ID:
		err = fmt.Errorf("capability %q is not the root capability of vault %s", capability.ID, call.config.ID)
	case call.invocation.Invoker() != call.config.Controller:
		err = fmt.Errorf("invoker %s is not the vault controller", call.invocation.Invoker())
	case !zcap.Covers(call.config.ID, requestURL):
		err = fmt.Errorf("capability %q does not cover %s", capability.ID, requestURL)
	}
	if err != nil {
		s.reject(writer, call, err)
		return nil, false
	}
	return call, true
}

// verifyInvocation loads the vault named in the path, reads the body
// and verifies the invocation signature and action.
func (s *Server) verifyInvocation(writer http.ResponseWriter, request *http.Request, action string, allowDeleted bool) (*authorizedCall, bool) {
	vault := request.PathValue("vault")
	config, err := s.store.Vault(request.Context(), vault)
	if err != nil {
		s.sendStoreError(writer, err)
		return nil, false
	}
	if config.Status == edv.StatusDeleted && !allowDeleted {
		s.sendError(writer, http.StatusNotFound, "vault %q is deleted", vault)
		return nil, false
	}

	body, err := netutil.ReadRequest(request)
	if err != nil {
		s.sendError(writer, http.StatusBadRequest, "%v", err)
		return nil, false
	}
	invocation, err := zcap.Verify(request, body, s.clock.Now())
	if err != nil {
		s.sendError(writer, http.StatusUnauthorized, "%v", err)
		return nil, false
	}
	if invocation.Action != action {
		s.sendError(writer, http.StatusForbidden, "request needs action %q, invocation is for %q", action, invocation.Action)
		return nil, false
	}
	return &authorizedCall{vault: vault, config: config, body: body, invocation: invocation}, true
}

func (s *Server) reject(writer http.ResponseWriter, call *authorizedCall, err error) {
	s.logger.Info("capability invocation rejected",
		"vault", call.config.ID,
		"invoker", call.invocation.Invoker(),
		"capability", call.invocation.Capability.ID,
		"error", err,
	)
	s.sendError(writer, http.StatusForbidden, "%v", err)
}

func (s *Server) authorizeCapability(request *http.Request, call *authorizedCall, requestURL, action string) error {
	capability := call.invocation.Capability
	invoker := call.invocation.Invoker()

	if capability.IsRoot() {
		target, ok := rootTarget(call.config.ID, capability.ID)
		if !ok {
			return fmt.Errorf("capability %q is not a root capability of this vault", capability.ID)
		}
		if invoker != call.config.Controller {
			return fmt.Errorf("invoker %s is not the vault controller", invoker)
		}
		if !zcap.Covers(target, requestURL) {
			return fmt.Errorf("capability %q does not cover %s", capability.ID, requestURL)
		}
		return nil
	}

	if err := zcap.VerifyDelegation(capability, s.clock.Now()); err != nil {
		return err
	}
	if zcap.Controller(capability.Invoker) != invoker {
		return fmt.Errorf("invoker %s is not the invoker of capability %q", invoker, capability.ID)
	}
	if !capability.AllowsAction(action) {
		return fmt.Errorf("capability %q does not allow %q", capability.ID, action)
	}
	if !zcap.Covers(capability.InvocationTarget.ID, requestURL) {
		return fmt.Errorf("capability %q does not cover %s", capability.ID, requestURL)
	}
	enabled, err := s.store.Capability(request.Context(), call.vault, capability.ID)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("capability %q is not enabled", capability.ID)
	}
	if err != nil {
		return err
	}
	if enabled.Proof == nil || enabled.Proof.ProofValue != capability.Proof.ProofValue {
		return fmt.Errorf("capability %q differs from the enabled one", capability.ID)
	}
	return s.authorizeDelegation(request, call, capability, 0)
}

// authorizeDelegation checks that the delegator of capability was
// entitled to delegate it: the vault controller delegating a root
// capability of the vault, or the invoker of an enabled parent.
func (s *Server) authorizeDelegation(request *http.Request, call *authorizedCall, capability *zcap.Capability, depth int) error {
	if depth >= maxChainDepth {
		return fmt.Errorf("delegation chain of %q is too long", capability.ID)
	}
	if target, ok := rootTarget(call.config.ID, capability.ParentCapability); ok {
		if capability.Delegator != call.config.Controller {
			return fmt.Errorf("root capability delegated by %s, not the vault controller", capability.Delegator)
		}
		if !zcap.Covers(target, capability.InvocationTarget.ID) {
			return fmt.Errorf("capability %q exceeds the target of its parent", capability.ID)
		}
		return nil
	}

	parent, err := s.store.Capability(request.Context(), call.vault, capability.ParentCapability)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("parent capability %q is not enabled", capability.ParentCapability)
	}
	if err != nil {
		return err
	}
	if zcap.Controller(parent.Invoker) != capability.Delegator {
		return fmt.Errorf("capability %q delegated by %s, not the invoker of its parent", capability.ID, capability.Delegator)
	}
	if parent.AllowedAction != "" && capability.AllowedAction != parent.AllowedAction {
		return fmt.Errorf("capability %q allows more than its parent", capability.ID)
	}
	if !zcap.Covers(parent.InvocationTarget.ID, capability.InvocationTarget.ID) {
		return fmt.Errorf("capability %q exceeds the target of its parent", capability.ID)
	}
	if parent.Expires != nil && !s.clock.Now().Before(*parent.Expires) {
		return fmt.Errorf("parent capability %q expired", parent.ID)
	}
	return s.authorizeDelegation(request, call, parent, depth+1)
}

// rootTarget maps a root capability id of the vault to the URL prefix
// it covers: "<vault>/zcaps/documents" covers "<vault>/documents".
func rootTarget(vaultID, capabilityID string) (string, bool) {
	suffix, ok := strings.CutPrefix(capabilityID, vaultID+"/zcaps/")
	if !ok || suffix == "" {
		return "", false
	}
	return vaultID + "/" + suffix, true
}
