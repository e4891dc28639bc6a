// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blindindex

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/bureau-foundation/edv/lib/secret"
)

func testHMACKey(t *testing.T, id, material string) *HMACKey {
	t.Helper()
	buffer, err := secret.NewFromString(material)
	if err != nil {
		t.Fatalf("NewFromString: %v", err)
	}
	key, err := NewHMACKey(id, buffer)
	if err != nil {
		t.Fatalf("NewHMACKey: %v", err)
	}
	t.Cleanup(func() { key.Close() })
	return key
}

func token(t *testing.T, blinder Blinder, value any) string {
	t.Helper()
	result, err := blind(context.Background(), blinder, value)
	if err != nil {
		t.Fatalf("blind(%v): %v", value, err)
	}
	return result
}

func TestBuildEntryDeterministic(t *testing.T) {
	key := testHMACKey(t, "urn:hmac:1", "0123456789abcdef0123456789abcdef")
	indexer := New()
	indexer.EnsureIndex(Multiple{"content.email", "content.age"}, false)

	first := Source{Content: map[string]any{"email": "a@example.com", "age": 41}}
	second := Source{Content: map[string]any{"age": 41, "email": "a@example.com", "other": "x"}}

	firstEntry, err := indexer.BuildEntry(context.Background(), key, first)
	if err != nil {
		t.Fatalf("BuildEntry(first): %v", err)
	}
	secondEntry, err := indexer.BuildEntry(context.Background(), key, second)
	if err != nil {
		t.Fatalf("BuildEntry(second): %v", err)
	}
	if !reflect.DeepEqual(firstEntry, secondEntry) {
		t.Errorf("entries differ for identical attribute values:\n  %+v\n  %+v", firstEntry, secondEntry)
	}
	if len(firstEntry.Attributes) != 2 {
		t.Fatalf("len(Attributes) = %d, want 2", len(firstEntry.Attributes))
	}
	if firstEntry.HMAC != (KeyRef{ID: "urn:hmac:1", Type: TypeHMAC}) {
		t.Errorf("HMAC = %+v, want urn:hmac:1/%s", firstEntry.HMAC, TypeHMAC)
	}
}

func TestBuildEntryTokensHidePlaintext(t *testing.T) {
	key := testHMACKey(t, "urn:hmac:1", "0123456789abcdef0123456789abcdef")
	indexer := New()
	indexer.EnsureIndex(Single("content.email"), true)

	entry, err := indexer.BuildEntry(context.Background(), key, Source{Content: map[string]any{"email": "a@example.com"}})
	if err != nil {
		t.Fatalf("BuildEntry: %v", err)
	}
	attribute := entry.Attributes[0]
	if attribute.Name == "content.email" || attribute.Value == "a@example.com" {
		t.Errorf("attribute carries plaintext: %+v", attribute)
	}
	if attribute.Name != token(t, key, "content.email") {
		t.Errorf("Name = %q, want blinded attribute name", attribute.Name)
	}
	if attribute.Value != token(t, key, "a@example.com") {
		t.Errorf("Value = %q, want blinded attribute value", attribute.Value)
	}
	if !attribute.Unique {
		t.Error("Unique = false, want true")
	}
}

func TestTokensDifferAcrossKeys(t *testing.T) {
	first := testHMACKey(t, "urn:hmac:1", "0123456789abcdef0123456789abcdef")
	second := testHMACKey(t, "urn:hmac:2", "fedcba9876543210fedcba9876543210")

	for _, value := range []any{"a@example.com", "content.email", 41, map[string]any{"nested": true}} {
		if token(t, first, value) == token(t, second, value) {
			t.Errorf("tokens for %v collide across keys", value)
		}
	}
}

func TestBuildEntryOmitsAbsentAttributes(t *testing.T) {
	key := testHMACKey(t, "urn:hmac:1", "0123456789abcdef0123456789abcdef")
	indexer := New()
	indexer.EnsureIndex(Multiple{"content.present", "content.absent", "meta.missing"}, false)

	entry, err := indexer.BuildEntry(context.Background(), key, Source{Content: map[string]any{"present": "yes"}})
	if err != nil {
		t.Fatalf("BuildEntry: %v", err)
	}
	if len(entry.Attributes) != 1 {
		t.Errorf("len(Attributes) = %d, want 1: %+v", len(entry.Attributes), entry.Attributes)
	}
}

func TestBuildEntryAttributePaths(t *testing.T) {
	key := testHMACKey(t, "urn:hmac:1", "0123456789abcdef0123456789abcdef")
	source := Source{
		Content: map[string]any{
			"k":       "from-content",
			"profile": map[string]any{"city": "Lisbon"},
			"a.b":     "literal-dot",
			"tags":    []any{"red", "blue"},
		},
		Meta: map[string]any{"k": "from-meta", "type": "note"},
	}

	tests := []struct {
		name   string
		values []any
	}{
		{name: "k", values: []any{"from-content"}},
		{name: "type", values: []any{"note"}},
		{name: "meta.k", values: []any{"from-meta"}},
		{name: "content.profile.city", values: []any{"Lisbon"}},
		{name: "content.a.b", values: []any{"literal-dot"}},
		{name: "content.tags", values: []any{"red", "blue"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			indexer := New()
			indexer.EnsureIndex(Single(test.name), false)
			entry, err := indexer.BuildEntry(context.Background(), key, source)
			if err != nil {
				t.Fatalf("BuildEntry: %v", err)
			}
			if len(entry.Attributes) != len(test.values) {
				t.Fatalf("len(Attributes) = %d, want %d", len(entry.Attributes), len(test.values))
			}
			for index, value := range test.values {
				if entry.Attributes[index].Value != token(t, key, value) {
					t.Errorf("attribute %d does not blind %v", index, value)
				}
			}
		})
	}
}

func TestEnsureIndexIdempotent(t *testing.T) {
	indexer := New()
	indexer.EnsureIndex(Single("content.email"), false)
	indexer.EnsureIndex(Multiple{"content.email", "content.name"}, true)
	indexer.EnsureIndex(nil, true)

	want := map[string]bool{"content.email": true, "content.name": true}
	if got := indexer.Declared(); !reflect.DeepEqual(got, want) {
		t.Errorf("Declared() = %v, want %v", got, want)
	}

	key := testHMACKey(t, "urn:hmac:1", "0123456789abcdef0123456789abcdef")
	entry, err := indexer.BuildEntry(context.Background(), key, Source{Content: map[string]any{"email": "a@example.com"}})
	if err != nil {
		t.Fatalf("BuildEntry: %v", err)
	}
	if len(entry.Attributes) != 1 {
		t.Errorf("redeclared attribute produced %d tokens, want 1", len(entry.Attributes))
	}
}

func TestUpdateEntries(t *testing.T) {
	first := testHMACKey(t, "urn:hmac:1", "0123456789abcdef0123456789abcdef")
	second := testHMACKey(t, "urn:hmac:2", "fedcba9876543210fedcba9876543210")
	indexer := New()
	indexer.EnsureIndex(Multiple{"content.a", "content.b"}, false)

	initial, err := indexer.UpdateEntries(context.Background(), first, nil, Source{Content: map[string]any{"a": 1, "b": 2}})
	if err != nil {
		t.Fatalf("UpdateEntries(initial): %v", err)
	}
	if len(initial) != 1 || len(initial[0].Attributes) != 2 {
		t.Fatalf("initial = %+v, want one entry with two attributes", initial)
	}

	withSecond, err := indexer.UpdateEntries(context.Background(), second, initial, Source{Content: map[string]any{"a": 1}})
	if err != nil {
		t.Fatalf("UpdateEntries(second key): %v", err)
	}
	if len(withSecond) != 2 {
		t.Fatalf("len = %d, want 2 entries", len(withSecond))
	}

	// Dropping attribute b and bumping the sequence regenerates the
	// whole entry for the first key; the second key's entry is kept.
	replaced, err := indexer.UpdateEntries(context.Background(), first, withSecond, Source{Sequence: 1, Content: map[string]any{"a": 5}})
	if err != nil {
		t.Fatalf("UpdateEntries(replace): %v", err)
	}
	if len(replaced) != 2 {
		t.Fatalf("len = %d, want 2 entries", len(replaced))
	}
	if replaced[0].HMAC.ID != "urn:hmac:1" || replaced[0].Sequence != 1 || len(replaced[0].Attributes) != 1 {
		t.Errorf("replaced[0] = %+v, want regenerated urn:hmac:1 entry at sequence 1", replaced[0])
	}
	if !reflect.DeepEqual(replaced[1], withSecond[1]) {
		t.Errorf("second key entry changed: %+v", replaced[1])
	}
	if len(initial[0].Attributes) != 2 || initial[0].Sequence != 0 {
		t.Errorf("input entries were modified: %+v", initial)
	}
}

func TestBuildQuery(t *testing.T) {
	key := testHMACKey(t, "urn:hmac:1", "0123456789abcdef0123456789abcdef")
	indexer := New()

	t.Run("conjunction", func(t *testing.T) {
		query, err := indexer.BuildQuery(context.Background(), key, Conjunction{"content.a": "x", "content.b": "y"}, nil)
		if err != nil {
			t.Fatalf("BuildQuery: %v", err)
		}
		want := Query{Index: "urn:hmac:1", Equals: []map[string]string{{
			token(t, key, "content.a"): token(t, key, "x"),
			token(t, key, "content.b"): token(t, key, "y"),
		}}}
		if !reflect.DeepEqual(query, want) {
			t.Errorf("BuildQuery() = %+v, want %+v", query, want)
		}
	})

	t.Run("disjunction", func(t *testing.T) {
		query, err := indexer.BuildQuery(context.Background(), key, Disjunction{{"content.a": "x"}, {"content.a": "z"}}, nil)
		if err != nil {
			t.Fatalf("BuildQuery: %v", err)
		}
		if len(query.Equals) != 2 || query.Has != nil {
			t.Errorf("BuildQuery() = %+v, want two equals predicates", query)
		}
	})

	t.Run("has", func(t *testing.T) {
		query, err := indexer.BuildQuery(context.Background(), key, nil, Multiple{"content.a", "content.b"})
		if err != nil {
			t.Fatalf("BuildQuery: %v", err)
		}
		want := []string{token(t, key, "content.a"), token(t, key, "content.b")}
		if !reflect.DeepEqual(query.Has, want) || query.Equals != nil {
			t.Errorf("BuildQuery() = %+v, want has %v", query, want)
		}
	})

	invalid := []struct {
		name   string
		equals EqualsFilter
		has    AttributeSelector
	}{
		{name: "both", equals: Conjunction{"a": 1}, has: Single("a")},
		{name: "neither"},
		{name: "empty disjunction", equals: Disjunction{}},
		{name: "empty predicate", equals: Conjunction{}},
		{name: "empty has", has: Multiple{}},
	}
	for _, test := range invalid {
		t.Run(test.name, func(t *testing.T) {
			_, err := indexer.BuildQuery(context.Background(), key, test.equals, test.has)
			if !errors.Is(err, ErrInvalidQuery) {
				t.Errorf("BuildQuery() error = %v, want ErrInvalidQuery", err)
			}
		})
	}
}

func TestIndexingDisabled(t *testing.T) {
	indexer := New()
	indexer.EnsureIndex(Single("content.a"), false)

	if _, err := indexer.BuildEntry(context.Background(), nil, Source{}); !errors.Is(err, ErrIndexingDisabled) {
		t.Errorf("BuildEntry(nil) error = %v, want ErrIndexingDisabled", err)
	}
	if _, err := indexer.UpdateEntries(context.Background(), nil, nil, Source{}); !errors.Is(err, ErrIndexingDisabled) {
		t.Errorf("UpdateEntries(nil) error = %v, want ErrIndexingDisabled", err)
	}
	if _, err := indexer.BuildQuery(context.Background(), nil, nil, Single("content.a")); !errors.Is(err, ErrIndexingDisabled) {
		t.Errorf("BuildQuery(nil) error = %v, want ErrIndexingDisabled", err)
	}
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		value any
		want  string
	}{
		{value: "a<b>&c", want: `"a<b>&c"`},
		{value: map[string]any{"z": 1, "a": []any{true, nil}}, want: `{"a":[true,null],"z":1}`},
		{value: 41, want: `41`},
	}
	for _, test := range tests {
		got, err := Canonicalize(test.value)
		if err != nil {
			t.Fatalf("Canonicalize(%v): %v", test.value, err)
		}
		if string(got) != test.want {
			t.Errorf("Canonicalize(%v) = %s, want %s", test.value, got, test.want)
		}
	}
}
