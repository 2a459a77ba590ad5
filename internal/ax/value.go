// Copyright 2025 Joseph Cumines
//
// Attribute values

package ax

import (
	"fmt"
	"math"

	"github.com/joeycumines/axplorer/internal/document"
)

// Value is a normalized attribute value. The set of implementations is closed:
// String, Int, Float, Bool, Point, Rect, Size, Range, List, Mapping, Nested and
// Unsupported.
type Value interface {
	isValue()
}

type (
	// String is a non-empty string.
	String string
	// Int is an integral number.
	Int int64
	// Float is a number with a fractional part.
	Float float64
	// Bool is a boolean.
	Bool bool
	// List is an ordered list of values.
	List []Value
	// Mapping is an ordered mapping of values.
	Mapping []Field
)

// Point is a screen coordinate. It doubles as a raw adapter value.
type Point struct {
	X, Y float64
}

// Size is a width and height. It doubles as a raw adapter value.
type Size struct {
	W, H float64
}

// Rect is an origin and a size. It doubles as a raw adapter value.
type Rect struct {
	X, Y, W, H float64
}

// Range is a location and length, e.g. of selected text. It doubles as a raw
// adapter value.
type Range struct {
	Location, Length int64
}

// Nested embeds a snapshot node reached through an attribute.
type Nested struct {
	Node *Node
}

// Unsupported marks a raw value of a category the engine does not
// understand. It renders as a diagnostic placeholder.
type Unsupported struct {
	Tag string
}

// Field is a named value.
type Field struct {
	Value Value
	Name  string
}

func (String) isValue()      {}
func (Int) isValue()         {}
func (Float) isValue()       {}
func (Bool) isValue()        {}
func (Point) isValue()       {}
func (Size) isValue()        {}
func (Rect) isValue()        {}
func (Range) isValue()       {}
func (List) isValue()        {}
func (Mapping) isValue()     {}
func (Nested) isValue()      {}
func (Unsupported) isValue() {}

// Placeholder returns the text emitted for an unsupported value.
func (u Unsupported) Placeholder() string {
	return fmt.Sprintf("<unsupported: %s>", u.Tag)
}

// Number returns v as an Int when it has no fractional part, otherwise as a
// Float.
func Number(v float64) Value {
	if v == math.Trunc(v) && !math.IsInf(v, 0) && v >= math.MinInt64 && v < math.MaxInt64 {
		return Int(int64(v))
	}
	return Float(v)
}

// number is the document form of Number.
func number(v float64) any {
	switch n := Number(v).(type) {
	case Int:
		return int64(n)
	default:
		return float64(n.(Float))
	}
}

// Node is one element of a snapshot: its handle-table ID, its attributes in
// emission order and its children in adapter order.
type Node struct {
	Attributes Mapping
	Children   []Child
	ID         int
}

// Child is a keyed child node.
type Child struct {
	Node *Node
	Key  string
}

// ChildKey returns the key a node with the given ID is stored under in its
// parent's children mapping.
func ChildKey(id int) string {
	return fmt.Sprintf("element%d", id)
}

// Attribute returns the value of a named attribute.
func (n *Node) Attribute(name string) (Value, bool) {
	for _, f := range n.Attributes {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Document renders the node as a document mapping with id, attributes and,
// when there are any, children.
func (n *Node) Document() *document.Map {
	m := document.NewMap(3)
	m.Set(document.KeyID, int64(n.ID))
	attrs := document.NewMap(len(n.Attributes))
	for _, f := range n.Attributes {
		attrs.Set(f.Name, Encode(f.Value))
	}
	m.Set(document.KeyAttributes, attrs)
	if len(n.Children) > 0 {
		children := document.NewMap(len(n.Children))
		for _, c := range n.Children {
			children.Set(c.Key, c.Node.Document())
		}
		m.Set(document.KeyChildren, children)
	}
	return m
}

// Encode converts a value to its document form.
func Encode(v Value) any {
	switch t := v.(type) {
	case String:
		return string(t)
	case Int:
		return int64(t)
	case Float:
		return number(float64(t))
	case Bool:
		return bool(t)
	case Point:
		m := document.NewMap(2)
		m.Set("x", number(t.X))
		m.Set("y", number(t.Y))
		return m
	case Size:
		m := document.NewMap(2)
		m.Set("width", number(t.W))
		m.Set("height", number(t.H))
		return m
	case Rect:
		m := document.NewMap(4)
		m.Set("x", number(t.X))
		m.Set("y", number(t.Y))
		m.Set("width", number(t.W))
		m.Set("height", number(t.H))
		return m
	case Range:
		m := document.NewMap(2)
		m.Set("location", t.Location)
		m.Set("length", t.Length)
		return m
	case List:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Encode(e)
		}
		return out
	case Mapping:
		m := document.NewMap(len(t))
		for _, f := range t {
			m.Set(f.Name, Encode(f.Value))
		}
		return m
	case Nested:
		if t.Node == nil {
			return nil
		}
		return t.Node.Document()
	case Unsupported:
		return t.Placeholder()
	case nil:
		return nil
	default:
		panic(fmt.Sprintf("ax: unhandled value type %T", v))
	}
}
