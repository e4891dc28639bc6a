// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"filippo.io/age"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/bureau-foundation/edv/lib/envelope"
	"github.com/bureau-foundation/edv/lib/secret"
)

// Algorithm is the recipient key-wrapping algorithm name.
const Algorithm = "age-X25519"

// ContentEncryption is the protected header "enc" value.
const ContentEncryption = "XC20P"

var encoding = base64.RawURLEncoding

type protectedHeader struct {
	Encryption  string      `json:"enc"`
	Compression Compression `json:"zip,omitempty"`
}

// Cipher implements envelope.Cipher. The zero value encrypts without
// compression. A Cipher is safe for concurrent use.
type Cipher struct {
	compression Compression
}

// NewCipher returns a Cipher that compresses payloads with algorithm
// before encrypting them.
func NewCipher(algorithm Compression) *Cipher {
	return &Cipher{compression: algorithm}
}

// EncryptObject encrypts plaintext to every recipient.
func (c *Cipher) EncryptObject(ctx context.Context, plaintext []byte, recipients []envelope.RecipientHeader, resolver envelope.KeyResolver) (*envelope.Envelope, error) {
	if len(recipients) == 0 {
		return nil, envelope.ErrNoRecipients
	}

	wrappers := make([]age.Recipient, len(recipients))
	for index, header := range recipients {
		if header.Algorithm != Algorithm {
			return nil, fmt.Errorf("sealed: recipient %s: unsupported algorithm %q", header.KeyID, header.Algorithm)
		}
		publicKey, err := resolver.ResolveKey(ctx, header.KeyID)
		if err != nil {
			return nil, fmt.Errorf("sealed: resolving recipient %s: %w", header.KeyID, err)
		}
		wrapper, err := age.ParseX25519Recipient(publicKey)
		if err != nil {
			return nil, fmt.Errorf("sealed: recipient %s: %w", header.KeyID, err)
		}
		wrappers[index] = wrapper
	}

	payload, applied, err := compress(plaintext, c.compression)
	if err != nil {
		return nil, err
	}
	headerJSON, err := json.Marshal(protectedHeader{Encryption: ContentEncryption, Compression: applied})
	if err != nil {
		return nil, fmt.Errorf("sealed: encoding protected header: %w", err)
	}
	protected := encoding.EncodeToString(headerJSON)

	contentKey := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(contentKey); err != nil {
		return nil, fmt.Errorf("sealed: generating content key: %w", err)
	}
	defer secret.Zero(contentKey)

	aead, err := chacha20poly1305.NewX(contentKey)
	if err != nil {
		return nil, fmt.Errorf("sealed: creating cipher: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("sealed: generating nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, payload, []byte(protected))
	tagStart := len(sealed) - aead.Overhead()

	result := &envelope.Envelope{
		Protected:  protected,
		Recipients: make([]envelope.Recipient, len(recipients)),
		IV:         encoding.EncodeToString(nonce),
		Ciphertext: encoding.EncodeToString(sealed[:tagStart]),
		Tag:        encoding.EncodeToString(sealed[tagStart:]),
	}
	for index, header := range recipients {
		wrapped, err := wrapKey(contentKey, wrappers[index])
		if err != nil {
			return nil, fmt.Errorf("sealed: wrapping content key for %s: %w", header.KeyID, err)
		}
		result.Recipients[index] = envelope.Recipient{
			Header:       header,
			EncryptedKey: encoding.EncodeToString(wrapped),
		}
	}
	return result, nil
}

// DecryptObject opens sealed with key. It returns nil, nil when key is
// not among the envelope's recipients.
func (c *Cipher) DecryptObject(ctx context.Context, sealed *envelope.Envelope, key envelope.KeyAgreementKey) ([]byte, error) {
	want := envelope.DefaultRecipient(key)
	var wrappedText string
	found := false
	for _, recipient := range sealed.Recipients {
		if recipient.Header == want {
			wrappedText, found = recipient.EncryptedKey, true
			break
		}
	}
	if !found {
		return nil, nil
	}

	wrapped, err := encoding.DecodeString(wrappedText)
	if err != nil {
		return nil, fmt.Errorf("sealed: decoding encrypted key: %w", err)
	}
	contentKey, err := key.UnwrapKey(ctx, wrapped)
	if err != nil {
		return nil, fmt.Errorf("sealed: unwrapping content key: %w", err)
	}
	defer secret.Zero(contentKey)

	headerJSON, err := encoding.DecodeString(sealed.Protected)
	if err != nil {
		return nil, fmt.Errorf("sealed: decoding protected header: %w", err)
	}
	var header protectedHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("sealed: parsing protected header: %w", err)
	}
	if header.Encryption != ContentEncryption {
		return nil, fmt.Errorf("sealed: unsupported content encryption %q", header.Encryption)
	}

	nonce, err := encoding.DecodeString(sealed.IV)
	if err != nil || len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("sealed: malformed iv")
	}
	ciphertext, err := encoding.DecodeString(sealed.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("sealed: decoding ciphertext: %w", err)
	}
	tag, err := encoding.DecodeString(sealed.Tag)
	if err != nil {
		return nil, fmt.Errorf("sealed: decoding tag: %w", err)
	}

	aead, err := chacha20poly1305.NewX(contentKey)
	if err != nil {
		return nil, fmt.Errorf("sealed: creating cipher: %w", err)
	}
	payload, err := aead.Open(nil, nonce, append(ciphertext, tag...), []byte(sealed.Protected))
	if err != nil {
		return nil, fmt.Errorf("sealed: authenticating payload: %w", err)
	}
	return decompress(payload, header.Compression)
}

func wrapKey(contentKey []byte, recipient age.Recipient) ([]byte, error) {
	var buffer bytes.Buffer
	writer, err := age.Encrypt(&buffer, recipient)
	if err != nil {
		return nil, err
	}
	if _, err := writer.Write(contentKey); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}
