// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blindindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrIndexingDisabled is returned when an indexed operation runs
	// without a blinder.
	ErrIndexingDisabled = errors.New("blindindex: indexing disabled; no blinding key")

	// ErrInvalidQuery is returned for a query with no filter, both
	// filters, or an empty filter.
	ErrInvalidQuery = errors.New("blindindex: invalid query")
)

// KeyRef identifies a blinder without carrying its key.
type KeyRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Attribute is one blinded attribute of an index entry.
type Attribute struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Unique bool   `json:"unique,omitempty"`
}

// Entry is the set of blinded attributes of one document under one
// blinder.
type Entry struct {
	HMAC       KeyRef      `json:"hmac"`
	Sequence   uint64      `json:"sequence"`
	Attributes []Attribute `json:"attributes"`
}

// Source is the plaintext view of a document that entries are built
// from.
type Source struct {
	Sequence uint64
	Content  map[string]any
	Meta     map[string]any
}

// Indexer holds attribute declarations. It is safe for concurrent
// use; declarations made while an entry is being built apply from the
// next call.
type Indexer struct {
	mu         sync.RWMutex
	order      []string
	attributes map[string]bool
}

// New returns an Indexer with no declared attributes.
func New() *Indexer {
	return &Indexer{attributes: make(map[string]bool)}
}

// EnsureIndex declares the selected attributes. Redeclaring an
// attribute replaces its unique flag.
func (i *Indexer) EnsureIndex(selector AttributeSelector, unique bool) {
	if selector == nil {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, name := range selector.attributeNames() {
		if _, ok := i.attributes[name]; !ok {
			i.order = append(i.order, name)
		}
		i.attributes[name] = unique
	}
}

// Declared returns the declared attributes and their unique flags.
func (i *Indexer) Declared() map[string]bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	declared := make(map[string]bool, len(i.attributes))
	for name, unique := range i.attributes {
		declared[name] = unique
	}
	return declared
}

// BuildEntry blinds every declared attribute present in source.
// Attributes absent from source are omitted.
func (i *Indexer) BuildEntry(ctx context.Context, blinder Blinder, source Source) (Entry, error) {
	if blinder == nil {
		return Entry{}, ErrIndexingDisabled
	}

	i.mu.RLock()
	names := append([]string(nil), i.order...)
	unique := make(map[string]bool, len(names))
	for _, name := range names {
		unique[name] = i.attributes[name]
	}
	i.mu.RUnlock()

	entry := Entry{HMAC: Ref(blinder), Sequence: source.Sequence, Attributes: []Attribute{}}
	for _, name := range names {
		value, ok := lookup(source, name)
		if !ok {
			continue
		}
		values := []any{value}
		if list, isList := value.([]any); isList {
			values = list
		}
		blindName, err := blind(ctx, blinder, name)
		if err != nil {
			return Entry{}, err
		}
		for _, element := range values {
			blindValue, err := blind(ctx, blinder, element)
			if err != nil {
				return Entry{}, err
			}
			entry.Attributes = append(entry.Attributes, Attribute{
				Name:   blindName,
				Value:  blindValue,
				Unique: unique[name],
			})
		}
	}
	return entry, nil
}

// UpdateEntries returns existing with the entry for blinder rebuilt
// from source. An existing entry with the same blinder reference is
// replaced in place; otherwise the new entry is appended. existing is
// not modified.
func (i *Indexer) UpdateEntries(ctx context.Context, blinder Blinder, existing []Entry, source Source) ([]Entry, error) {
	entry, err := i.BuildEntry(ctx, blinder, source)
	if err != nil {
		return nil, err
	}
	updated := make([]Entry, 0, len(existing)+1)
	replaced := false
	for _, current := range existing {
		if current.HMAC == entry.HMAC {
			updated = append(updated, entry)
			replaced = true
			continue
		}
		updated = append(updated, current)
	}
	if !replaced {
		updated = append(updated, entry)
	}
	return updated, nil
}

// Query is a blinded search request.
type Query struct {
	// Index is the ID of the blinder the tokens were produced with.
	Index string `json:"index"`

	// Equals matches documents satisfying any one of its maps, where
	// a map matches when every blinded name carries the blinded value.
	Equals []map[string]string `json:"equals,omitempty"`

	// Has matches documents carrying every blinded name.
	Has []string `json:"has,omitempty"`
}

// BuildQuery blinds exactly one of equals or has. Pass nil for the
// filter not in use.
func (i *Indexer) BuildQuery(ctx context.Context, blinder Blinder, equals EqualsFilter, has AttributeSelector) (Query, error) {
	if blinder == nil {
		return Query{}, ErrIndexingDisabled
	}
	if equals != nil && has != nil {
		return Query{}, fmt.Errorf("%w: equals and has are mutually exclusive", ErrInvalidQuery)
	}
	if equals == nil && has == nil {
		return Query{}, fmt.Errorf("%w: one of equals or has is required", ErrInvalidQuery)
	}

	query := Query{Index: blinder.ID()}
	if equals != nil {
		predicates := equals.predicates()
		if len(predicates) == 0 {
			return Query{}, fmt.Errorf("%w: empty equals filter", ErrInvalidQuery)
		}
		for _, predicate := range predicates {
			if len(predicate) == 0 {
				return Query{}, fmt.Errorf("%w: empty equals predicate", ErrInvalidQuery)
			}
			blinded := make(map[string]string, len(predicate))
			for name, value := range predicate {
				blindName, err := blind(ctx, blinder, name)
				if err != nil {
					return Query{}, err
				}
				blindValue, err := blind(ctx, blinder, value)
				if err != nil {
					return Query{}, err
				}
				blinded[blindName] = blindValue
			}
			query.Equals = append(query.Equals, blinded)
		}
		return query, nil
	}

	names := has.attributeNames()
	if len(names) == 0 {
		return Query{}, fmt.Errorf("%w: empty has filter", ErrInvalidQuery)
	}
	for _, name := range names {
		blindName, err := blind(ctx, blinder, name)
		if err != nil {
			return Query{}, err
		}
		query.Has = append(query.Has, blindName)
	}
	return query, nil
}

func blind(ctx context.Context, blinder Blinder, value any) (string, error) {
	canonical, err := Canonicalize(value)
	if err != nil {
		return "", err
	}
	token, err := blinder.Sign(ctx, canonical)
	if err != nil {
		return "", fmt.Errorf("blindindex: signing with %s: %w", blinder.ID(), err)
	}
	return token, nil
}

// Canonicalize returns the canonical JSON encoding of value: object
// keys sorted, no insignificant whitespace, no HTML escaping.
func Canonicalize(value any) ([]byte, error) {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return nil, fmt.Errorf("blindindex: canonicalizing value: %w", err)
	}
	return bytes.TrimSuffix(buffer.Bytes(), []byte("\n")), nil
}

func lookup(source Source, name string) (any, bool) {
	root, rest, dotted := strings.Cut(name, ".")
	if dotted {
		switch root {
		case "content":
			return walk(source.Content, rest)
		case "meta":
			return walk(source.Meta, rest)
		}
	}
	if value, ok := walk(source.Content, name); ok {
		return value, true
	}
	return walk(source.Meta, name)
}

// walk follows a dotted path through nested objects. A key containing
// a literal dot takes precedence over descending.
func walk(object map[string]any, path string) (any, bool) {
	if object == nil {
		return nil, false
	}
	if value, ok := object[path]; ok {
		return value, value != nil
	}
	head, rest, found := strings.Cut(path, ".")
	if !found {
		return nil, false
	}
	child, ok := object[head].(map[string]any)
	if !ok {
		return nil, false
	}
	return walk(child, rest)
}
