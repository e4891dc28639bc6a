// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Payload is the plaintext carried by an envelope.
type Payload struct {
	Content map[string]any `json:"content"`
	Meta    map[string]any `json:"meta"`
}

// Codec converts payloads to and from envelopes through a Cipher.
// A Codec holds no mutable state and is safe for concurrent use.
type Codec struct {
	cipher Cipher
}

// NewCodec returns a Codec that encrypts with cipher.
func NewCodec(cipher Cipher) *Codec {
	return &Codec{cipher: cipher}
}

// Encrypt serializes payload and encrypts it to recipients. Duplicate
// recipients are collapsed. Nil content or meta is encoded as an empty
// object.
func (c *Codec) Encrypt(ctx context.Context, payload Payload, recipients []RecipientHeader, resolver KeyResolver) (*Envelope, error) {
	recipients = MergeRecipients(nil, recipients)
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	if resolver == nil {
		return nil, fmt.Errorf("envelope: key resolver is required to encrypt")
	}

	if payload.Content == nil {
		payload.Content = map[string]any{}
	}
	if payload.Meta == nil {
		payload.Meta = map[string]any{}
	}
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("envelope: encoding payload: %w", err)
	}

	sealed, err := c.cipher.EncryptObject(ctx, plaintext, recipients, resolver)
	if err != nil {
		return nil, fmt.Errorf("envelope: encrypting payload: %w", err)
	}
	return sealed, nil
}

// Decrypt opens envelope with key and decodes the payload. Every
// failure wraps ErrDecryption.
func (c *Codec) Decrypt(ctx context.Context, sealed *Envelope, key KeyAgreementKey) (Payload, error) {
	if sealed == nil || len(sealed.Recipients) == 0 {
		return Payload{}, fmt.Errorf("%w: malformed envelope", ErrDecryption)
	}
	if key == nil {
		return Payload{}, fmt.Errorf("%w: no key agreement key", ErrDecryption)
	}

	plaintext, err := c.cipher.DecryptObject(ctx, sealed, key)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	if plaintext == nil {
		return Payload{}, fmt.Errorf("%w: key %s cannot open envelope", ErrDecryption, key.ID())
	}

	var payload Payload
	decoder := json.NewDecoder(bytes.NewReader(plaintext))
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		return Payload{}, fmt.Errorf("%w: decoding payload: %w", ErrDecryption, err)
	}
	if payload.Content == nil {
		return Payload{}, fmt.Errorf("%w: payload has no content", ErrDecryption)
	}
	if payload.Meta == nil {
		payload.Meta = map[string]any{}
	}
	return payload, nil
}
