// Copyright 2025 Joseph Cumines
//
// Raw adapter value categories

package ax

import (
	"fmt"
	"strconv"
	"strings"
)

// URL is a resource locator reported by an adapter as text, e.g. the
// AXDocument of a window or the AXURL of a link.
type URL string

// Opaque is a raw value the adapter could only describe by a type tag, e.g. a
// platform object with no portable representation.
type Opaque struct {
	Tag string
}

// OrderedMap is a raw mapping whose key order the adapter wants preserved.
// Plain map[string]any values are emitted in sorted key order instead.
type OrderedMap []RawField

// RawField is one entry of an OrderedMap.
type RawField struct {
	Value any
	Name  string
}

// Value type tags accepted by ParseTypedValue.
const (
	TypeString = "string"
	TypeBool   = "bool"
	TypeDouble = "double"
)

// ParseTypedValue converts a textual value and its type tag into the Go value
// handed to Adapter.SetAttributeValue: string, bool or float64.
func ParseTypedValue(raw, tag string) (any, error) {
	switch strings.ToLower(tag) {
	case TypeString, "":
		return raw, nil
	case TypeBool, "boolean":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid bool %q", ErrUnsupported, raw)
		}
		return b, nil
	case TypeDouble, "number", "float":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid double %q", ErrUnsupported, raw)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%w: value type %q", ErrUnsupported, tag)
	}
}

// CheckSettable reports whether value is one of the types accepted by
// Adapter.SetAttributeValue.
func CheckSettable(value any) error {
	switch value.(type) {
	case string, bool, float64:
		return nil
	default:
		return fmt.Errorf("%w: value of type %T", ErrUnsupported, value)
	}
}
