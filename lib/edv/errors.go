// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package edv

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/edv/lib/blindindex"
	"github.com/bureau-foundation/edv/lib/envelope"
)

var (
	// ErrValidation is returned for malformed input detected before
	// any request is sent: a document without an id or content, a
	// missing invoker, a missing vault id.
	ErrValidation = errors.New("edv: validation failed")

	// ErrDuplicate is returned when Insert, CreateVault or
	// EnableCapability collides with an existing record.
	ErrDuplicate = errors.New("edv: duplicate")

	// ErrInvalidState is returned when the vault rejects a write
	// because the submitted sequence is stale.
	ErrInvalidState = errors.New("edv: invalid state")

	// ErrNotFound is returned by Get and the configuration lookups
	// when the record does not exist.
	ErrNotFound = errors.New("edv: not found")

	// ErrIndexingDisabled is returned by indexed operations when no
	// blinder is configured.
	ErrIndexingDisabled = blindindex.ErrIndexingDisabled

	// ErrRecipient is returned when a document has no recipient to
	// encrypt to.
	ErrRecipient = envelope.ErrNoRecipients

	// ErrDecryption is returned when an envelope cannot be opened.
	ErrDecryption = envelope.ErrDecryption
)

// StatusError is an unexpected HTTP response from the vault. Callers
// can use errors.As to inspect it:
//
//	var statusErr *edv.StatusError
//	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusForbidden {
//	    ...
//	}
type StatusError struct {
	Method     string
	URL        string
	StatusCode int

	// Body is the response body, for diagnostics.
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("edv: unexpected %d response from %s %s: %s", e.StatusCode, e.Method, e.URL, e.Body)
}

// IsStatus reports whether err is a *StatusError with the given code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == code
	}
	return false
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
