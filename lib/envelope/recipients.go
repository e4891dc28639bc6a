// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

// DefaultRecipient returns the recipient header for key.
func DefaultRecipient(key KeyAgreementKey) RecipientHeader {
	return RecipientHeader{KeyID: key.ID(), Algorithm: key.Algorithm()}
}

// MergeRecipients returns existing followed by every header of
// additional not already present, keyed on (kid, alg). Duplicates
// within either list collapse to their first occurrence. Neither
// input is modified.
func MergeRecipients(existing, additional []RecipientHeader) []RecipientHeader {
	seen := make(map[RecipientHeader]struct{}, len(existing)+len(additional))
	merged := make([]RecipientHeader, 0, len(existing)+len(additional))
	for _, list := range [][]RecipientHeader{existing, additional} {
		for _, header := range list {
			if _, ok := seen[header]; ok {
				continue
			}
			seen[header] = struct{}{}
			merged = append(merged, header)
		}
	}
	return merged
}

// SelectRecipients decides who a payload is encrypted to.
//
// When existing carries recipients, the result is their union with
// explicit and defaultKey is not consulted. Otherwise the result is
// explicit (deduplicated) when non-empty, or the single default
// recipient derived from defaultKey. With none of these available it
// returns ErrNoRecipients.
func SelectRecipients(existing *Envelope, explicit []RecipientHeader, defaultKey KeyAgreementKey) ([]RecipientHeader, error) {
	if existing != nil && len(existing.Recipients) > 0 {
		return MergeRecipients(existing.Headers(), explicit), nil
	}
	if len(explicit) > 0 {
		return MergeRecipients(nil, explicit), nil
	}
	if defaultKey != nil {
		return []RecipientHeader{DefaultRecipient(defaultKey)}, nil
	}
	return nil, ErrNoRecipients
}
