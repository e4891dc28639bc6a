// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package edv

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/bureau-foundation/edv/lib/zcap"
)

// Vault administration. Creating and reading configurations is
// unsigned; changing one requires the controller's signature on the
// vault's root capability.

// CreateVault creates a vault from config and returns the stored
// configuration with its server-assigned id. config.Controller is
// required and config.Sequence must be 0. A configuration with the
// same controller and reference id yields ErrDuplicate.
func (c *Client) CreateVault(ctx context.Context, config VaultConfig) (*VaultConfig, error) {
	if config.Controller == "" {
		return nil, validationError("vault controller is required")
	}
	if config.Sequence != 0 {
		return nil, validationError("sequence of a new vault must be 0, got %d", config.Sequence)
	}
	if c.serverURL == "" {
		return nil, validationError("a server URL is required")
	}
	target := c.serverURL + "/edvs"

	status, body, err := c.sendJSON(ctx, http.MethodPost, target, "application/json", config)
	if err != nil {
		return nil, err
	}
	switch {
	case succeeded(status):
	case status == http.StatusConflict:
		return nil, fmt.Errorf("%w: vault %q for %s already exists", ErrDuplicate, config.ReferenceID, config.Controller)
	default:
		return nil, c.unexpected(http.MethodPost, target, status, body)
	}

	var created VaultConfig
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("edv: parsing created vault: %w", err)
	}
	return &created, nil
}

// FindConfigs lists the vault configurations of a controller.
func (c *Client) FindConfigs(ctx context.Context, query ConfigQuery) ([]VaultConfig, error) {
	if query.Controller == "" {
		return nil, validationError("controller is required to find vaults")
	}
	if c.serverURL == "" {
		return nil, validationError("a server URL is required")
	}
	parameters := url.Values{"controller": []string{query.Controller}}
	if query.ReferenceID != "" {
		parameters.Set("referenceId", query.ReferenceID)
	}
	if query.After != "" {
		parameters.Set("after", query.After)
	}
	if query.Limit > 0 {
		parameters.Set("limit", strconv.Itoa(query.Limit))
	}
	target := c.serverURL + "/edvs?" + parameters.Encode()

	status, body, err := c.sendJSON(ctx, http.MethodGet, target, "", nil)
	if err != nil {
		return nil, err
	}
	if !succeeded(status) {
		return nil, c.unexpected(http.MethodGet, target, status, body)
	}
	var configs []VaultConfig
	if err := json.Unmarshal(body, &configs); err != nil {
		return nil, fmt.Errorf("edv: parsing vault configurations: %w", err)
	}
	return configs, nil
}

// FindConfig returns the configuration of the controller's vault with
// referenceID, or ErrNotFound.
func (c *Client) FindConfig(ctx context.Context, controller, referenceID string) (*VaultConfig, error) {
	configs, err := c.FindConfigs(ctx, ConfigQuery{Controller: controller, ReferenceID: referenceID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("%w: vault %q for %s", ErrNotFound, referenceID, controller)
	}
	return &configs[0], nil
}

// GetConfig fetches the configuration of the vault at id.
func (c *Client) GetConfig(ctx context.Context, id string) (*VaultConfig, error) {
	if id == "" {
		return nil, validationError("vault id is required")
	}
	status, body, err := c.sendJSON(ctx, http.MethodGet, id, "", nil)
	if err != nil {
		return nil, err
	}
	switch {
	case succeeded(status):
	case status == http.StatusNotFound:
		return nil, fmt.Errorf("%w: vault %q", ErrNotFound, id)
	default:
		return nil, c.unexpected(http.MethodGet, id, status, body)
	}
	var config VaultConfig
	if err := json.Unmarshal(body, &config); err != nil {
		return nil, fmt.Errorf("edv: parsing vault configuration: %w", err)
	}
	return &config, nil
}

// UpdateConfig applies a JSON Patch to the configuration of the vault
// at id. sequence is the configuration's next sequence; a stale one
// yields ErrInvalidState. The request is signed by the client's
// invoker, which must be the vault controller.
func (c *Client) UpdateConfig(ctx context.Context, id string, sequence uint64, patch []PatchOperation) error {
	if id == "" {
		return validationError("vault id is required")
	}
	if len(patch) == 0 {
		return validationError("patch is empty")
	}
	invoker, err := c.resolveInvoker(CallOptions{})
	if err != nil {
		return err
	}
	status, body, err := c.invoke(ctx, invocation{
		method:      http.MethodPatch,
		url:         id,
		body:        ConfigPatch{Sequence: sequence, Patch: patch},
		contentType: "application/json-patch+json",
		capability:  zcap.Root(id, id),
		action:      zcap.ActionWrite,
		invoker:     invoker,
	})
	if err != nil {
		return err
	}
	switch {
	case succeeded(status):
		return nil
	case status == http.StatusConflict:
		return fmt.Errorf("%w: vault %q rejected sequence %d", ErrInvalidState, id, sequence)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: vault %q", ErrNotFound, id)
	default:
		return c.unexpected(http.MethodPatch, id, status, body)
	}
}

// SetStatus changes the lifecycle status of the vault at id. Like
// UpdateConfig it is signed by the client's invoker.
func (c *Client) SetStatus(ctx context.Context, id string, status VaultStatus) error {
	if id == "" {
		return validationError("vault id is required")
	}
	if status != StatusActive && status != StatusDeleted {
		return validationError("unknown vault status %q", status)
	}
	invoker, err := c.resolveInvoker(CallOptions{})
	if err != nil {
		return err
	}
	target := id + "/status"
	code, body, err := c.invoke(ctx, invocation{
		method:     http.MethodPost,
		url:        target,
		body:       StatusChange{Status: status},
		capability: zcap.Root(id, id),
		action:     zcap.ActionWrite,
		invoker:    invoker,
	})
	if err != nil {
		return err
	}
	switch {
	case succeeded(code):
		return nil
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: vault %q", ErrNotFound, id)
	default:
		return c.unexpected(http.MethodPost, target, code, body)
	}
}

// sendJSON sends an unsigned request with an optional JSON body.
func (c *Client) sendJSON(ctx context.Context, method, target, contentType string, value any) (int, []byte, error) {
	header := http.Header{"Accept": []string{acceptHeader}}
	var payload []byte
	if value != nil {
		var err error
		payload, err = json.Marshal(value)
		if err != nil {
			return 0, nil, fmt.Errorf("edv: encoding request body: %w", err)
		}
		header.Set("Content-Type", contentType)
	}
	return c.send(ctx, method, target, header, payload)
}
