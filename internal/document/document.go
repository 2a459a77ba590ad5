// Copyright 2025 Joseph Cumines
//
// Package document holds the generic, insertion-ordered tree that snapshots
// are rendered into, together with its YAML codec and the transforms that
// operate on it without any knowledge of accessibility.
//
// A document value is one of:
//   - nil
//   - string
//   - bool
//   - int64 (other integer kinds are accepted on input)
//   - float64
//   - []any
//   - *Map
package document

import (
	"fmt"
	"strconv"
)

// Well-known node fields.
const (
	KeyID         = "id"
	KeyAttributes = "attributes"
	KeyChildren   = "children"
)

// Map is a string-keyed mapping that preserves insertion order.
//
// The zero value is ready to use.
type Map struct {
	values map[string]any
	keys   []string
}

// NewMap returns an empty Map with room for n entries.
func NewMap(n int) *Map {
	return &Map{
		keys:   make([]string, 0, n),
		values: make(map[string]any, n),
	}
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns a copy of the keys in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.keys...)
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (any, bool) {
	if m == nil || m.values == nil {
		return nil, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Set stores value under key. A new key is appended; an existing key keeps
// its position.
func (m *Map) Set(key string, value any) {
	if m.values == nil {
		m.values = make(map[string]any)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Delete removes key, reporting whether it was present.
func (m *Map) Delete(key string) bool {
	if m == nil || m.values == nil {
		return false
	}
	if _, ok := m.values[key]; !ok {
		return false
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
	return true
}

// Map returns the sub-mapping stored under key, if any.
func (m *Map) Map(key string) (*Map, bool) {
	v, ok := m.Get(key)
	if !ok {
		return nil, false
	}
	sub, ok := v.(*Map)
	return sub, ok && sub != nil
}

// Text returns the value under key in its string form.
func (m *Map) Text(key string) (string, bool) {
	v, ok := m.Get(key)
	if !ok {
		return "", false
	}
	return ScalarString(v), true
}

// Range calls fn for each entry in order until fn returns false.
func (m *Map) Range(fn func(key string, value any) bool) {
	if m == nil {
		return
	}
	for _, k := range m.keys {
		if !fn(k, m.values[k]) {
			return
		}
	}
}

// Clone returns a deep copy of v.
func Clone(v any) any {
	switch t := v.(type) {
	case *Map:
		if t == nil {
			return (*Map)(nil)
		}
		out := NewMap(t.Len())
		for _, k := range t.keys {
			out.Set(k, Clone(t.values[k]))
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	default:
		return v
	}
}

// ScalarString renders v the way values are compared when filtering:
// integers without a fractional part, floats in their shortest form, booleans
// as true/false and nil as null.
func ScalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case uint:
		return strconv.FormatUint(uint64(t), 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32)
	case *Map:
		if t == nil {
			return "null"
		}
		s := "{"
		for i, k := range t.keys {
			if i > 0 {
				s += ", "
			}
			s += k + ": " + ScalarString(t.values[k])
		}
		return s + "}"
	case []any:
		s := "["
		for i, e := range t {
			if i > 0 {
				s += ", "
			}
			s += ScalarString(e)
		}
		return s + "]"
	default:
		return fmt.Sprint(v)
	}
}

// Plain converts v to plain Go values, replacing every *Map with a
// map[string]any. Key order is lost.
func Plain(v any) any {
	switch t := v.(type) {
	case *Map:
		if t == nil {
			return map[string]any(nil)
		}
		out := make(map[string]any, t.Len())
		for _, k := range t.keys {
			out[k] = Plain(t.values[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Plain(e)
		}
		return out
	default:
		return v
	}
}
