// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blindindex

// AttributeSelector names one or more attributes: Single or Multiple.
type AttributeSelector interface {
	attributeNames() []string
}

// Single selects one attribute.
type Single string

func (s Single) attributeNames() []string { return []string{string(s)} }

// Multiple selects several attributes.
type Multiple []string

func (m Multiple) attributeNames() []string { return []string(m) }

// EqualsFilter is an equality filter: Conjunction or Disjunction.
type EqualsFilter interface {
	predicates() []map[string]any
}

// Conjunction matches documents whose attributes equal every value.
type Conjunction map[string]any

func (c Conjunction) predicates() []map[string]any { return []map[string]any{c} }

// Disjunction matches documents satisfying any one of its maps.
type Disjunction []map[string]any

func (d Disjunction) predicates() []map[string]any { return d }
