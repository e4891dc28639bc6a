// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package edv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/bureau-foundation/edv/lib/blindindex"
	"github.com/bureau-foundation/edv/lib/envelope"
	"github.com/bureau-foundation/edv/lib/netutil"
	"github.com/bureau-foundation/edv/lib/sealed"
	"github.com/bureau-foundation/edv/lib/zcap"
)

// acceptHeader is sent on every request.
const acceptHeader = "application/ld+json, application/json"

// ClientConfig holds configuration for creating a Client. Only the
// fields needed by the operations in use must be set.
type ClientConfig struct {
	// VaultID is the vault URL, e.g. "https://vault.example/edvs/z1".
	// Document operations need it unless every call passes a
	// capability.
	VaultID string

	// ServerURL is the base URL of the vault service, used by
	// CreateVault and FindConfigs.
	ServerURL string

	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used.
	HTTPClient *http.Client

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger

	// Cipher encrypts envelopes. If nil, a sealed.Cipher without
	// compression is used.
	Cipher envelope.Cipher

	// Signer signs capability invocations. If nil, a zcap.HTTPSigner
	// with default expiry is used.
	Signer zcap.CapabilitySigner

	// KeyResolver resolves recipient key ids. If nil, key ids that are
	// age recipients resolve to themselves, and the id of
	// KeyAgreementKey resolves to its public key when it exposes one.
	KeyResolver envelope.KeyResolver

	// KeyAgreementKey is the default key for decryption and the
	// default recipient for new documents.
	KeyAgreementKey envelope.KeyAgreementKey

	// HMAC is the default blinder for index entries and queries.
	HMAC blindindex.Blinder

	// Invoker is the default identity that signs invocations.
	Invoker zcap.Invoker

	// Indexer holds attribute declarations. If nil, an empty Indexer
	// is created; declare attributes with EnsureIndex.
	Indexer *blindindex.Indexer
}

// CallOptions overrides client defaults for one call. Zero fields
// fall back to the ClientConfig value.
type CallOptions struct {
	// Recipients to encrypt to. On Update they are added to the
	// document's existing recipients.
	Recipients []envelope.RecipientHeader

	KeyResolver     envelope.KeyResolver
	KeyAgreementKey envelope.KeyAgreementKey
	HMAC            blindindex.Blinder

	// Capability authorizes the call. Its invocationTarget replaces
	// the URL the client would derive from the vault id.
	Capability *zcap.Capability

	Invoker zcap.Invoker
}

// Client talks to one vault. It holds no per-document state and is
// safe for concurrent use.
type Client struct {
	vaultID    string
	serverURL  string
	httpClient *http.Client
	logger     *slog.Logger
	codec      *envelope.Codec
	signer     zcap.CapabilitySigner
	indexer    *blindindex.Indexer

	keyResolver     envelope.KeyResolver
	keyAgreementKey envelope.KeyAgreementKey
	hmac            blindindex.Blinder
	invoker         zcap.Invoker
}

// NewClient creates a Client from config.
func NewClient(config ClientConfig) (*Client, error) {
	for name, raw := range map[string]string{"VaultID": config.VaultID, "ServerURL": config.ServerURL} {
		if raw == "" {
			continue
		}
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("edv: invalid %s %q", name, raw)
		}
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cipher := config.Cipher
	if cipher == nil {
		cipher = sealed.NewCipher(sealed.CompressionNone)
	}
	signer := config.Signer
	if signer == nil {
		signer = zcap.NewHTTPSigner(zcap.SignerConfig{})
	}
	indexer := config.Indexer
	if indexer == nil {
		indexer = blindindex.New()
	}
	resolver := config.KeyResolver
	if resolver == nil {
		static := sealed.StaticKeyResolver{}
		if key, ok := config.KeyAgreementKey.(interface{ PublicKey() string }); ok {
			static[config.KeyAgreementKey.ID()] = key.PublicKey()
		}
		resolver = static
	}

	return &Client{
		vaultID:         strings.TrimRight(config.VaultID, "/"),
		serverURL:       strings.TrimRight(config.ServerURL, "/"),
		httpClient:      httpClient,
		logger:          logger,
		codec:           envelope.NewCodec(cipher),
		signer:          signer,
		indexer:         indexer,
		keyResolver:     resolver,
		keyAgreementKey: config.KeyAgreementKey,
		hmac:            config.HMAC,
		invoker:         config.Invoker,
	}, nil
}

// VaultID returns the vault URL the client was configured with.
func (c *Client) VaultID() string { return c.vaultID }

// EnsureIndex declares attributes to index on future inserts and
// updates. Declaring an attribute again replaces its unique flag.
func (c *Client) EnsureIndex(attributes blindindex.AttributeSelector, unique bool) {
	c.indexer.EnsureIndex(attributes, unique)
}

func (c *Client) resolveInvoker(options CallOptions) (zcap.Invoker, error) {
	invoker := options.Invoker
	if invoker == nil {
		invoker = c.invoker
	}
	if invoker == nil || invoker.ID() == "" {
		return nil, fmt.Errorf("%w: %w", ErrValidation, zcap.ErrNoInvoker)
	}
	return invoker, nil
}

func (c *Client) resolveKeyResolver(options CallOptions) envelope.KeyResolver {
	if options.KeyResolver != nil {
		return options.KeyResolver
	}
	return c.keyResolver
}

func (c *Client) resolveKeyAgreementKey(options CallOptions) envelope.KeyAgreementKey {
	if options.KeyAgreementKey != nil {
		return options.KeyAgreementKey
	}
	return c.keyAgreementKey
}

func (c *Client) resolveHMAC(options CallOptions) (blindindex.Blinder, error) {
	if options.HMAC != nil {
		return options.HMAC, nil
	}
	if c.hmac != nil {
		return c.hmac, nil
	}
	return nil, fmt.Errorf("%w; no HMAC configured", ErrIndexingDisabled)
}

// target returns the URL a call must address: the capability's
// invocation target when one is given, otherwise fallback derived
// from the vault id.
func (c *Client) target(capability *zcap.Capability, fallback func() string) (string, error) {
	if capability == nil && c.vaultID == "" {
		return "", validationError("a vault id or a capability is required")
	}
	var defaultURL string
	if capability == nil {
		defaultURL = fallback()
	}
	target, err := zcap.ResolveTarget(capability, defaultURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return target, nil
}

func (c *Client) documentURL(id string) string {
	return c.vaultID + "/documents/" + url.PathEscape(id)
}

func (c *Client) rootCapabilityID(path string) string {
	return c.vaultID + "/zcaps/" + path
}

func (c *Client) rootDocumentCapabilityID(id string) string {
	return c.rootCapabilityID("documents/" + url.PathEscape(id))
}

// invocation is one signed request.
type invocation struct {
	method     string
	url        string
	body       any
	capability *zcap.Capability
	action     string
	invoker    zcap.Invoker

	// contentType of the body; application/json when empty.
	contentType string
}

// invoke signs and sends a capability invocation, returning the status
// code and body of the response. Non-2xx statuses are not errors here;
// callers map them.
func (c *Client) invoke(ctx context.Context, call invocation) (int, []byte, error) {
	var payload []byte
	header := http.Header{"Accept": []string{acceptHeader}}
	if call.body != nil {
		var err error
		payload, err = json.Marshal(call.body)
		if err != nil {
			return 0, nil, fmt.Errorf("edv: encoding request body: %w", err)
		}
		contentType := call.contentType
		if contentType == "" {
			contentType = "application/json"
		}
		header.Set("Content-Type", contentType)
	}

	signed, err := c.signer.Sign(ctx, zcap.Invocation{
		Method:     call.method,
		URL:        call.url,
		Header:     header,
		Body:       payload,
		Capability: call.capability,
		Action:     call.action,
		Invoker:    call.invoker,
	})
	if err != nil {
		return 0, nil, fmt.Errorf("edv: signing %s %s: %w", call.method, call.url, err)
	}
	return c.send(ctx, call.method, call.url, signed, payload)
}

// send issues one HTTP request. A Host entry in header sets the
// request host rather than a header field.
func (c *Client) send(ctx context.Context, method, requestURL string, header http.Header, payload []byte) (int, []byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("edv: creating request: %w", err)
	}
	for key, values := range header {
		if key == zcap.HeaderHost {
			if len(values) > 0 {
				request.Host = values[0]
			}
			continue
		}
		request.Header[key] = values
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return 0, nil, fmt.Errorf("edv: request to %s %s failed: %w", method, requestURL, err)
	}
	defer response.Body.Close()

	body, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("edv: reading response from %s %s: %w", method, requestURL, err)
	}
	c.logger.Debug("vault request",
		"method", method,
		"url", requestURL,
		"status", response.StatusCode,
	)
	return response.StatusCode, body, nil
}

// unexpected builds the error for a status the operation does not map.
func (c *Client) unexpected(method, requestURL string, status int, body []byte) error {
	c.logger.Warn("unexpected vault response",
		"method", method,
		"url", requestURL,
		"status", status,
	)
	return &StatusError{Method: method, URL: requestURL, StatusCode: status, Body: string(body)}
}

func succeeded(status int) bool {
	return status >= 200 && status < 300
}
