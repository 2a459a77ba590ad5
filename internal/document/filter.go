// Copyright 2025 Joseph Cumines
//
// Generic document transforms

package document

import (
	"errors"
	"fmt"
)

// ErrEmptyKey is returned by FilterNodes when no key is given.
var ErrEmptyKey = errors.New("filter key must not be empty")

// RemoveKeys returns a copy of doc with every occurrence of each key deleted
// from every mapping at any depth, including node fields and the entries of
// attribute mappings. Whole nodes are never removed. With no keys the result
// is structurally identical to doc.
func RemoveKeys(doc any, keys []string) any {
	if len(keys) == 0 {
		return Clone(doc)
	}
	drop := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		drop[k] = struct{}{}
	}
	return removeKeys(doc, drop)
}

func removeKeys(v any, drop map[string]struct{}) any {
	switch t := v.(type) {
	case *Map:
		if t == nil {
			return t
		}
		out := NewMap(t.Len())
		for _, k := range t.keys {
			if _, ok := drop[k]; ok {
				continue
			}
			out.Set(k, removeKeys(t.values[k], drop))
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = removeKeys(e, drop)
		}
		return out
	default:
		return v
	}
}

// RemoveMatchingNodes returns a copy of doc without the subtrees rooted at
// matching nodes. Only node mappings, those carrying an id or attributes
// field, are candidates; other mappings such as children containers and
// geometry values are descended into but never matched themselves. A node
// matches when it, or its attributes mapping, has a field named key and, if
// value is non-nil, the field's string form (see ScalarString) equals *value.
//
// Filtering is bottom-up: containers left empty by the removal are pruned
// too. If the root itself is removed the result is an empty container of the
// same kind.
func RemoveMatchingNodes(doc any, key string, value *string) any {
	match := func(m *Map) bool {
		if !isNode(m) {
			return false
		}
		return fieldMatches(m, key, value) || fieldMatches(attributesOf(m), key, value)
	}
	out, keep := pruneNodes(doc, match)
	if keep {
		return out
	}
	if _, ok := doc.([]any); ok {
		return []any{}
	}
	return NewMap(0)
}

func isNode(m *Map) bool {
	return m.Has(KeyID) || m.Has(KeyAttributes)
}

func attributesOf(m *Map) *Map {
	attrs, _ := m.Map(KeyAttributes)
	return attrs
}

func fieldMatches(m *Map, key string, value *string) bool {
	v, ok := m.Get(key)
	if !ok {
		return false
	}
	return value == nil || ScalarString(v) == *value
}

// pruneNodes reports false when v is to be removed from its parent.
func pruneNodes(v any, match func(*Map) bool) (any, bool) {
	switch t := v.(type) {
	case *Map:
		if t == nil {
			return t, true
		}
		if match(t) {
			return nil, false
		}
		out := NewMap(t.Len())
		for _, k := range t.keys {
			if child, keep := pruneNodes(t.values[k], match); keep {
				out.Set(k, child)
			}
		}
		return out, out.Len() > 0 || t.Len() == 0
	case []any:
		out := make([]any, 0, len(t))
		for _, e := range t {
			if child, keep := pruneNodes(e, match); keep {
				out = append(out, child)
			}
		}
		return out, len(out) > 0 || len(t) == 0
	default:
		return v, true
	}
}

// FilterKeys parses text, removes keys (see RemoveKeys) and renders the
// result. Unparsable input yields an error wrapping ErrMalformed.
func FilterKeys(text string, keys []string) (string, error) {
	doc, err := Parse(text)
	if err != nil {
		return "", err
	}
	out, err := Marshal(RemoveKeys(doc, keys))
	if err != nil {
		return "", fmt.Errorf("failed to render filtered document: %w", err)
	}
	return out, nil
}

// FilterNodes parses text, removes matching subtrees (see
// RemoveMatchingNodes) and renders the result.
func FilterNodes(text, key string, value *string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	doc, err := Parse(text)
	if err != nil {
		return "", err
	}
	out, err := Marshal(RemoveMatchingNodes(doc, key, value))
	if err != nil {
		return "", fmt.Errorf("failed to render filtered document: %w", err)
	}
	return out, nil
}
