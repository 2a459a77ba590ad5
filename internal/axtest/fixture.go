// Copyright 2025 Joseph Cumines
//
// YAML fixtures describing a Graph

package axtest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joeycumines/axplorer/internal/ax"
	"gopkg.in/yaml.v3"
)

// Fixture is the YAML form of a Graph:
//
//	applications:
//	  Calculator: app
//	elements:
//	  app:
//	    role: AXApplication
//	    attributes:
//	      AXTitle: Calculator
//	      AXMainWindow: "@window"
//	    children: [window]
//	  window:
//	    role: AXWindow
//	    attributes:
//	      AXFrame: {x: 0, y: 25, w: 230, h: 408}
//	    actions: [AXRaise]
//	hit_test:
//	  - element: window
//	    frame: {x: 0, y: 25, w: 230, h: 408}
//
// Attribute strings starting with "@" reference elements by name, as do
// lists of them. Maps with x/y/w/h keys become ax.Rect, x/y ax.Point and
// w/h ax.Size.
type Fixture struct {
	Applications map[string]string          `yaml:"applications"`
	Elements     map[string]FixtureElement `yaml:"elements"`
	HitTest      []FixtureHit              `yaml:"hit_test"`
}

// FixtureElement describes one element.
type FixtureElement struct {
	Attributes yaml.Node `yaml:"attributes"`
	Role       string    `yaml:"role"`
	Children   []string  `yaml:"children"`
	Navigation []string  `yaml:"navigation"`
	Actions    []string  `yaml:"actions"`
}

// FixtureHit answers ElementAtPosition for points inside Frame. The first
// matching entry wins.
type FixtureHit struct {
	Element string  `yaml:"element"`
	Frame   ax.Rect `yaml:"frame"`
}

// LoadFixture reads a fixture file.
func LoadFixture(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	g, err := ParseFixture(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// ParseFixture builds a Graph from a YAML fixture.
func ParseFixture(data []byte) (*Graph, error) {
	var f Fixture
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}
	return f.Build()
}

// Build creates the described Graph.
func (f *Fixture) Build() (*Graph, error) {
	elems := make(map[string]*Element, len(f.Elements))
	for name, spec := range f.Elements {
		elems[name] = NewElement(spec.Role).WithActions(spec.Actions...)
	}
	lookup := func(name string) (*Element, error) {
		e, ok := elems[name]
		if !ok {
			return nil, fmt.Errorf("unknown element %q", name)
		}
		return e, nil
	}
	lookupAll := func(names []string) ([]*Element, error) {
		out := make([]*Element, 0, len(names))
		for _, n := range names {
			e, err := lookup(n)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, nil
	}

	for name, spec := range f.Elements {
		e := elems[name]
		children, err := lookupAll(spec.Children)
		if err != nil {
			return nil, fmt.Errorf("element %s: children: %w", name, err)
		}
		e.Append(children...)
		navigation, err := lookupAll(spec.Navigation)
		if err != nil {
			return nil, fmt.Errorf("element %s: navigation: %w", name, err)
		}
		if len(navigation) > 0 {
			e.Navigate(navigation...)
		}
		if err := setAttributes(e, &spec.Attributes, lookup); err != nil {
			return nil, fmt.Errorf("element %s: %w", name, err)
		}
	}

	g := NewGraph()
	for app, root := range f.Applications {
		e, err := lookup(root)
		if err != nil {
			return nil, fmt.Errorf("application %s: %w", app, err)
		}
		g.AddApplication(app, e)
	}

	if len(f.HitTest) > 0 {
		type target struct {
			elem  *Element
			frame ax.Rect
		}
		targets := make([]target, 0, len(f.HitTest))
		for _, h := range f.HitTest {
			e, err := lookup(h.Element)
			if err != nil {
				return nil, fmt.Errorf("hit_test: %w", err)
			}
			targets = append(targets, target{elem: e, frame: h.Frame})
		}
		g.SetHitTest(func(x, y float64) *Element {
			for _, t := range targets {
				if x >= t.frame.X && x < t.frame.X+t.frame.W && y >= t.frame.Y && y < t.frame.Y+t.frame.H {
					return t.elem
				}
			}
			return nil
		})
	}
	return g, nil
}

func setAttributes(e *Element, node *yaml.Node, lookup func(string) (*Element, error)) error {
	if node.Kind == 0 {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("attributes must be a mapping, line %d", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		v, err := attributeValue(node.Content[i+1], lookup)
		if err != nil {
			return fmt.Errorf("attribute %s: %w", name, err)
		}
		e.Set(name, v)
	}
	return nil
}

func attributeValue(n *yaml.Node, lookup func(string) (*Element, error)) (any, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!str" && strings.HasPrefix(n.Value, "@") {
			return lookup(n.Value[1:])
		}
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		if i, ok := v.(int); ok {
			return float64(i), nil
		}
		return v, nil

	case yaml.SequenceNode:
		if len(n.Content) > 0 && n.Content[0].Tag == "!!str" && strings.HasPrefix(n.Content[0].Value, "@") {
			out := make([]ax.Ref, 0, len(n.Content))
			for _, c := range n.Content {
				if !strings.HasPrefix(c.Value, "@") {
					return nil, fmt.Errorf("mixed element and value list, line %d", c.Line)
				}
				e, err := lookup(c.Value[1:])
				if err != nil {
					return nil, err
				}
				out = append(out, e)
			}
			return out, nil
		}
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := attributeValue(c, lookup)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case yaml.MappingNode:
		var m map[string]float64
		if err := n.Decode(&m); err == nil {
			if v, ok := geometry(m); ok {
				return v, nil
			}
		}
		var v map[string]any
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	}
	return nil, fmt.Errorf("unsupported value, line %d", n.Line)
}

func geometry(m map[string]float64) (any, bool) {
	has := func(keys ...string) bool {
		if len(m) != len(keys) {
			return false
		}
		for _, k := range keys {
			if _, ok := m[k]; !ok {
				return false
			}
		}
		return true
	}
	switch {
	case has("x", "y", "w", "h"):
		return ax.Rect{X: m["x"], Y: m["y"], W: m["w"], H: m["h"]}, true
	case has("x", "y"):
		return ax.Point{X: m["x"], Y: m["y"]}, true
	case has("w", "h"):
		return ax.Size{W: m["w"], H: m["h"]}, true
	}
	return nil, false
}
