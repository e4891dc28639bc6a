// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package edv

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/bureau-foundation/edv/lib/zcap"
)

// EnableCapability registers a delegated capability with the vault so
// its invoker can use it. Registering the same capability twice
// yields ErrDuplicate.
func (c *Client) EnableCapability(ctx context.Context, capability *zcap.Capability, options CallOptions) error {
	if capability == nil || capability.ID == "" {
		return validationError("capability with an id is required")
	}
	if c.vaultID == "" {
		return validationError("a vault id is required")
	}
	invoker, err := c.resolveInvoker(options)
	if err != nil {
		return err
	}
	target := c.vaultID + "/authorizations"

	status, body, err := c.invoke(ctx, invocation{
		method:     http.MethodPost,
		url:        target,
		body:       capability,
		capability: c.authorizationsCapability(options, target),
		action:     zcap.ActionWrite,
		invoker:    invoker,
	})
	if err != nil {
		return err
	}
	switch {
	case succeeded(status):
		return nil
	case status == http.StatusConflict:
		return fmt.Errorf("%w: capability %q is already enabled", ErrDuplicate, capability.ID)
	default:
		return c.unexpected(http.MethodPost, target, status, body)
	}
}

// DisableCapability revokes an enabled capability. It reports false,
// without an error, when no such capability is enabled.
func (c *Client) DisableCapability(ctx context.Context, id string, options CallOptions) (bool, error) {
	if id == "" {
		return false, validationError("capability id is required")
	}
	if c.vaultID == "" {
		return false, validationError("a vault id is required")
	}
	invoker, err := c.resolveInvoker(options)
	if err != nil {
		return false, err
	}
	collection := c.vaultID + "/authorizations"
	target := collection + "?id=" + url.QueryEscape(id)

	status, body, err := c.invoke(ctx, invocation{
		method:     http.MethodDelete,
		url:        target,
		capability: c.authorizationsCapability(options, collection),
		action:     zcap.ActionWrite,
		invoker:    invoker,
	})
	if err != nil {
		return false, err
	}
	switch {
	case succeeded(status):
		return true, nil
	case status == http.StatusNotFound:
		return false, nil
	default:
		return false, c.unexpected(http.MethodDelete, target, status, body)
	}
}

func (c *Client) authorizationsCapability(options CallOptions, target string) *zcap.Capability {
	if options.Capability != nil {
		return options.Capability
	}
	return zcap.Root(c.rootCapabilityID("authorizations"), target)
}
