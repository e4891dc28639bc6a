// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package zcap

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/bureau-foundation/edv/lib/clock"
)

// Header names written by HTTPSigner.
const (
	HeaderAuthorization = "Authorization"
	HeaderInvocation    = "Capability-Invocation"
	HeaderDigest        = "Digest"
	HeaderHost          = "Host"
	HeaderContentType   = "Content-Type"
)

// DefaultExpiry is how long an invocation signature stays valid.
const DefaultExpiry = 10 * time.Minute

// maxEmbeddedCapability bounds a decompressed embedded capability.
const maxEmbeddedCapability = 1 << 20

// Invocation describes one request to sign.
type Invocation struct {
	Method string
	URL    string

	// Header holds request headers to bind. Only Content-Type is
	// covered by the signature; other headers pass through.
	Header http.Header
	Body   []byte

	Capability *Capability
	Action     string
	Invoker    Invoker
}

// CapabilitySigner turns an invocation into signed request headers.
// Implementations perform no network I/O.
type CapabilitySigner interface {
	Sign(ctx context.Context, invocation Invocation) (http.Header, error)
}

// SignerConfig configures an HTTPSigner.
type SignerConfig struct {
	// Clock supplies signature timestamps. Defaults to clock.Real().
	Clock clock.Clock

	// Expiry is the signature validity window. Defaults to
	// DefaultExpiry.
	Expiry time.Duration
}

// HTTPSigner signs invocations as HTTP message signatures.
type HTTPSigner struct {
	clock  clock.Clock
	expiry time.Duration
}

// NewHTTPSigner returns a signer for config.
func NewHTTPSigner(config SignerConfig) *HTTPSigner {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Expiry <= 0 {
		config.Expiry = DefaultExpiry
	}
	return &HTTPSigner{clock: config.Clock, expiry: config.Expiry}
}

// Sign returns a copy of invocation.Header with Host, Digest (when a
// body is present), Capability-Invocation, and Authorization set.
func (s *HTTPSigner) Sign(ctx context.Context, invocation Invocation) (http.Header, error) {
	if invocation.Invoker == nil || invocation.Invoker.ID() == "" {
		return nil, ErrNoInvoker
	}
	if invocation.Capability == nil || invocation.Capability.ID == "" {
		return nil, fmt.Errorf("zcap: capability is required")
	}
	if invocation.Action == "" {
		return nil, fmt.Errorf("zcap: invocation action is required")
	}
	target, err := url.Parse(invocation.URL)
	if err != nil || target.Host == "" {
		return nil, fmt.Errorf("zcap: invalid request URL %q", invocation.URL)
	}

	header := invocation.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set(HeaderHost, target.Host)
	if len(invocation.Body) > 0 {
		header.Set(HeaderDigest, Digest(invocation.Body))
	} else {
		header.Del(HeaderDigest)
	}
	capabilityHeader, err := invocationHeader(invocation.Capability, invocation.Action)
	if err != nil {
		return nil, err
	}
	header.Set(HeaderInvocation, capabilityHeader)

	created := s.clock.Now().Unix()
	expires := created + int64(s.expiry/time.Second)
	parameters := signatureParameters{
		keyID:         invocation.Invoker.ID(),
		created:       created,
		expires:       expires,
		requestTarget: requestTarget(invocation.Method, target),
	}
	components := coveredComponents(header)
	message, err := signingString(components, parameters, header)
	if err != nil {
		return nil, err
	}
	signature, err := invocation.Invoker.Sign(ctx, []byte(message))
	if err != nil {
		return nil, fmt.Errorf("zcap: signing invocation: %w", err)
	}

	header.Set(HeaderAuthorization, fmt.Sprintf(
		`Signature keyId="%s",headers="%s",signature="%s",created="%d",expires="%d"`,
		parameters.keyID, strings.Join(components, " "),
		base64.StdEncoding.EncodeToString(signature), created, expires))
	return header, nil
}

// Digest returns the Digest header value for body.
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
}

type signatureParameters struct {
	keyID         string
	created       int64
	expires       int64
	requestTarget string
}

func requestTarget(method string, target *url.URL) string {
	return strings.ToLower(method) + " " + target.RequestURI()
}

func coveredComponents(header http.Header) []string {
	components := []string{"(key-id)", "(created)", "(expires)", "(request-target)", "host", "capability-invocation"}
	if header.Get(HeaderContentType) != "" {
		components = append(components, "content-type")
	}
	if header.Get(HeaderDigest) != "" {
		components = append(components, "digest")
	}
	return components
}

func signingString(components []string, parameters signatureParameters, header http.Header) (string, error) {
	lines := make([]string, 0, len(components))
	for _, component := range components {
		var value string
		switch component {
		case "(key-id)":
			value = parameters.keyID
		case "(created)":
			value = strconv.FormatInt(parameters.created, 10)
		case "(expires)":
			value = strconv.FormatInt(parameters.expires, 10)
		case "(request-target)":
			value = parameters.requestTarget
		default:
			values := header.Values(component)
			if len(values) == 0 {
				return "", fmt.Errorf("zcap: covered header %q is missing", component)
			}
			value = strings.Join(values, ", ")
		}
		lines = append(lines, component+": "+value)
	}
	return strings.Join(lines, "\n"), nil
}

func invocationHeader(capability *Capability, action string) (string, error) {
	if capability.IsRoot() {
		return fmt.Sprintf(`zcap id="%s",action="%s"`, capability.ID, action), nil
	}
	encoded, err := encodeCapability(capability)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`zcap capability="%s",action="%s"`, encoded, action), nil
}

func encodeCapability(capability *Capability) (string, error) {
	document, err := json.Marshal(capability)
	if err != nil {
		return "", fmt.Errorf("zcap: encoding capability: %w", err)
	}
	var buffer bytes.Buffer
	writer := gzip.NewWriter(&buffer)
	if _, err := writer.Write(document); err != nil {
		return "", fmt.Errorf("zcap: compressing capability: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("zcap: compressing capability: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buffer.Bytes()), nil
}

func decodeCapability(encoded string) (*Capability, error) {
	compressed, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("zcap: decoding embedded capability: %w", err)
	}
	reader, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("zcap: decompressing embedded capability: %w", err)
	}
	defer reader.Close()
	document, err := io.ReadAll(io.LimitReader(reader, maxEmbeddedCapability))
	if err != nil {
		return nil, fmt.Errorf("zcap: decompressing embedded capability: %w", err)
	}
	var capability Capability
	if err := json.Unmarshal(document, &capability); err != nil {
		return nil, fmt.Errorf("zcap: parsing embedded capability: %w", err)
	}
	return &capability, nil
}
