// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package edv

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/bureau-foundation/edv/lib/blindindex"
	"github.com/bureau-foundation/edv/lib/envelope"
	"github.com/bureau-foundation/edv/lib/zcap"
)

// Insert encrypts doc and stores it as a new document. doc.Sequence
// must be 0. With no recipients in options or on doc, the document is
// encrypted to the key agreement key. A document with the same id
// already in the vault yields ErrDuplicate.
func (c *Client) Insert(ctx context.Context, doc Document, options CallOptions) (*Document, error) {
	if err := validateDocument(doc); err != nil {
		return nil, err
	}
	if doc.Sequence != 0 {
		return nil, validationError("sequence of a new document must be 0, got %d", doc.Sequence)
	}
	invoker, err := c.resolveInvoker(options)
	if err != nil {
		return nil, err
	}
	target, err := c.target(options.Capability, func() string { return c.documentURL(doc.ID) })
	if err != nil {
		return nil, err
	}
	// Inserts post to the collection, not the document.
	collection := strings.TrimSuffix(target, "/"+url.PathEscape(doc.ID))
	capability := options.Capability
	if capability == nil {
		capability = zcap.Root(c.rootCapabilityID("documents"), collection)
	}

	encrypted, err := c.encrypt(ctx, doc, 0, options)
	if err != nil {
		return nil, err
	}

	status, body, err := c.invoke(ctx, invocation{
		method:     http.MethodPost,
		url:        collection,
		body:       encrypted,
		capability: capability,
		action:     zcap.ActionWrite,
		invoker:    invoker,
	})
	if err != nil {
		return nil, err
	}
	switch {
	case succeeded(status):
		return withPlaintext(encrypted, doc), nil
	case status == http.StatusConflict:
		return nil, fmt.Errorf("%w: document %q already exists", ErrDuplicate, doc.ID)
	default:
		return nil, c.unexpected(http.MethodPost, collection, status, body)
	}
}

// Update encrypts doc and stores it over the vault's copy. A document
// that was read from or written to the vault is submitted at
// doc.Sequence+1; one that was never stored (no envelope, sequence 0)
// is submitted at 0 and created if absent. Recipients in options are
// added to those already on doc.Envelope. A stale sequence yields
// ErrInvalidState.
func (c *Client) Update(ctx context.Context, doc Document, options CallOptions) (*Document, error) {
	if err := validateDocument(doc); err != nil {
		return nil, err
	}
	invoker, err := c.resolveInvoker(options)
	if err != nil {
		return nil, err
	}
	target, err := c.target(options.Capability, func() string { return c.documentURL(doc.ID) })
	if err != nil {
		return nil, err
	}
	capability := options.Capability
	if capability == nil {
		capability = zcap.Root(c.rootDocumentCapabilityID(doc.ID), target)
	}

	sequence := doc.Sequence + 1
	if doc.Envelope == nil && doc.Sequence == 0 {
		sequence = 0
	}
	encrypted, err := c.encrypt(ctx, doc, sequence, options)
	if err != nil {
		return nil, err
	}

	status, body, err := c.invoke(ctx, invocation{
		method:     http.MethodPost,
		url:        target,
		body:       encrypted,
		capability: capability,
		action:     zcap.ActionWrite,
		invoker:    invoker,
	})
	if err != nil {
		return nil, err
	}
	switch {
	case succeeded(status):
		return withPlaintext(encrypted, doc), nil
	case status == http.StatusConflict:
		return nil, fmt.Errorf("%w: document %q is not at sequence %d", ErrInvalidState, doc.ID, doc.Sequence)
	default:
		return nil, c.unexpected(http.MethodPost, target, status, body)
	}
}

// UpdateIndex rebuilds the index entry of doc for the HMAC blinder
// and stores it without rewriting the document. doc.Sequence must
// match the vault's copy, otherwise ErrInvalidState.
func (c *Client) UpdateIndex(ctx context.Context, doc Document, options CallOptions) error {
	if err := validateDocument(doc); err != nil {
		return err
	}
	invoker, err := c.resolveInvoker(options)
	if err != nil {
		return err
	}
	blinder, err := c.resolveHMAC(options)
	if err != nil {
		return err
	}
	target, err := c.target(options.Capability, func() string { return c.documentURL(doc.ID) })
	if err != nil {
		return err
	}
	target += "/index"
	capability := options.Capability
	if capability == nil {
		capability = zcap.Root(c.rootDocumentCapabilityID(doc.ID)+"/index", target)
	}

	entry, err := c.indexer.BuildEntry(ctx, blinder, blindindex.Source{
		Sequence: doc.Sequence,
		Content:  doc.Content,
		Meta:     doc.Meta,
	})
	if err != nil {
		return fmt.Errorf("edv: building index entry: %w", err)
	}

	status, body, err := c.invoke(ctx, invocation{
		method:     http.MethodPost,
		url:        target,
		body:       entry,
		capability: capability,
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
		return fmt.Errorf("%w: index of document %q is not at sequence %d", ErrInvalidState, doc.ID, doc.Sequence)
	default:
		return c.unexpected(http.MethodPost, target, status, body)
	}
}

// Delete removes the document with id. It reports false, without an
// error, when the vault has no such document.
func (c *Client) Delete(ctx context.Context, id string, options CallOptions) (bool, error) {
	if id == "" {
		return false, validationError("document id is required")
	}
	invoker, err := c.resolveInvoker(options)
	if err != nil {
		return false, err
	}
	target, err := c.target(options.Capability, func() string { return c.documentURL(id) })
	if err != nil {
		return false, err
	}
	capability := options.Capability
	if capability == nil {
		capability = zcap.Root(c.rootDocumentCapabilityID(id), target)
	}

	status, body, err := c.invoke(ctx, invocation{
		method:     http.MethodDelete,
		url:        target,
		capability: capability,
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

// Get fetches and decrypts the document with id. A missing document
// yields ErrNotFound.
func (c *Client) Get(ctx context.Context, id string, options CallOptions) (*Document, error) {
	if id == "" {
		return nil, validationError("document id is required")
	}
	invoker, err := c.resolveInvoker(options)
	if err != nil {
		return nil, err
	}
	key := c.resolveKeyAgreementKey(options)
	if key == nil {
		return nil, validationError("a key agreement key is required to decrypt")
	}
	target, err := c.target(options.Capability, func() string { return c.documentURL(id) })
	if err != nil {
		return nil, err
	}
	capability := options.Capability
	if capability == nil {
		capability = zcap.Root(c.rootDocumentCapabilityID(id), target)
	}

	status, body, err := c.invoke(ctx, invocation{
		method:     http.MethodGet,
		url:        target,
		capability: capability,
		action:     zcap.ActionRead,
		invoker:    invoker,
	})
	if err != nil {
		return nil, err
	}
	switch {
	case succeeded(status):
	case status == http.StatusNotFound:
		return nil, fmt.Errorf("%w: document %q", ErrNotFound, id)
	default:
		return nil, c.unexpected(http.MethodGet, target, status, body)
	}

	var encrypted EncryptedDocument
	if err := json.Unmarshal(body, &encrypted); err != nil {
		return nil, fmt.Errorf("edv: parsing document %q: %w", id, err)
	}
	return c.decrypt(ctx, encrypted, key)
}

// Find queries the vault by blinded attributes and decrypts every
// match. Results keep the vault's order. Decryption runs concurrently;
// any failure fails the whole call.
func (c *Client) Find(ctx context.Context, query FindQuery, options CallOptions) ([]Document, error) {
	invoker, err := c.resolveInvoker(options)
	if err != nil {
		return nil, err
	}
	blinder, err := c.resolveHMAC(options)
	if err != nil {
		return nil, err
	}
	key := c.resolveKeyAgreementKey(options)
	if key == nil {
		return nil, validationError("a key agreement key is required to decrypt")
	}
	blinded, err := c.indexer.BuildQuery(ctx, blinder, query.Equals, query.Has)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	target, err := c.target(options.Capability, func() string { return c.vaultID })
	if err != nil {
		return nil, err
	}
	target += "/query"
	capability := options.Capability
	if capability == nil {
		capability = zcap.Root(c.rootCapabilityID("query"), target)
	}

	status, body, err := c.invoke(ctx, invocation{
		method:     http.MethodPost,
		url:        target,
		body:       blinded,
		capability: capability,
		action:     zcap.ActionRead,
		invoker:    invoker,
	})
	if err != nil {
		return nil, err
	}
	if !succeeded(status) {
		return nil, c.unexpected(http.MethodPost, target, status, body)
	}

	var matches []EncryptedDocument
	if err := json.Unmarshal(body, &matches); err != nil {
		return nil, fmt.Errorf("edv: parsing query results: %w", err)
	}

	documents := make([]Document, len(matches))
	errs := make([]error, len(matches))
	var waitGroup sync.WaitGroup
	for index := range matches {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			document, err := c.decrypt(ctx, matches[index], key)
			if err != nil {
				errs[index] = err
				return
			}
			documents[index] = *document
		}()
	}
	waitGroup.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return documents, nil
}

// encrypt builds the wire record for doc at sequence.
func (c *Client) encrypt(ctx context.Context, doc Document, sequence uint64, options CallOptions) (EncryptedDocument, error) {
	recipients, err := envelope.SelectRecipients(doc.Envelope, options.Recipients, c.resolveKeyAgreementKey(options))
	if err != nil {
		return EncryptedDocument{}, fmt.Errorf("edv: document %q: %w", doc.ID, err)
	}
	meta := doc.Meta
	if meta == nil {
		meta = map[string]any{}
	}

	indexed := doc.Indexed
	if blinder, err := c.resolveHMAC(options); err == nil {
		indexed, err = c.indexer.UpdateEntries(ctx, blinder, doc.Indexed, blindindex.Source{
			Sequence: sequence,
			Content:  doc.Content,
			Meta:     meta,
		})
		if err != nil {
			return EncryptedDocument{}, fmt.Errorf("edv: indexing document %q: %w", doc.ID, err)
		}
	}
	if indexed == nil {
		indexed = []blindindex.Entry{}
	}

	sealed, err := c.codec.Encrypt(ctx, envelope.Payload{Content: doc.Content, Meta: meta}, recipients, c.resolveKeyResolver(options))
	if err != nil {
		return EncryptedDocument{}, fmt.Errorf("edv: document %q: %w", doc.ID, err)
	}
	return EncryptedDocument{ID: doc.ID, Sequence: sequence, Indexed: indexed, JWE: sealed}, nil
}

func (c *Client) decrypt(ctx context.Context, encrypted EncryptedDocument, key envelope.KeyAgreementKey) (*Document, error) {
	if encrypted.ID == "" {
		return nil, fmt.Errorf("%w: encrypted document has no id", ErrDecryption)
	}
	payload, err := c.codec.Decrypt(ctx, encrypted.JWE, key)
	if err != nil {
		return nil, fmt.Errorf("edv: document %q: %w", encrypted.ID, err)
	}
	return &Document{
		ID:       encrypted.ID,
		Sequence: encrypted.Sequence,
		Indexed:  encrypted.Indexed,
		Envelope: encrypted.JWE,
		Content:  payload.Content,
		Meta:     payload.Meta,
	}, nil
}

// withPlaintext pairs a written record with the caller's own content
// and meta. The vault's response is not consulted.
func withPlaintext(encrypted EncryptedDocument, doc Document) *Document {
	meta := doc.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	return &Document{
		ID:       encrypted.ID,
		Sequence: encrypted.Sequence,
		Indexed:  encrypted.Indexed,
		Envelope: encrypted.JWE,
		Content:  doc.Content,
		Meta:     meta,
	}
}

func validateDocument(doc Document) error {
	if doc.ID == "" {
		return validationError("document id is required")
	}
	if doc.Content == nil {
		return validationError("document %q has no content", doc.ID)
	}
	return nil
}
