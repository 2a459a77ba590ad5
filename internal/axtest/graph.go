// Copyright 2025 Joseph Cumines
//
// Package axtest provides an in-memory accessibility graph implementing
// ax.Adapter, for tests and for serving a scripted graph over the remote
// adapter protocol.

package axtest

import (
	"fmt"
	"slices"
	"sync"

	"github.com/joeycumines/axplorer/internal/ax"
)

// Element is a node of a Graph. Its pointer is the ax.Ref handed out.
type Element struct {
	ax.RefMarker
	values   map[string]any
	names    []string
	children []*Element
	actions  []string
	// navigation, when set, is reported as AXChildrenInNavigationOrder.
	navigation []*Element
	// Stale makes every adapter call on the element fail with ax.ErrNotFound.
	Stale bool
}

// NewElement creates an element with the given role and attribute pairs
// (name, value, name, value, ...).
func NewElement(role string, pairs ...any) *Element {
	e := &Element{values: make(map[string]any)}
	if role != "" {
		e.Set(ax.AttrRole, role)
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		name, ok := pairs[i].(string)
		if !ok {
			panic(fmt.Sprintf("axtest: attribute name at %d is %T", i, pairs[i]))
		}
		e.Set(name, pairs[i+1])
	}
	return e
}

// Set stores an attribute value, keeping first-set order for reporting.
func (e *Element) Set(name string, value any) *Element {
	if _, ok := e.values[name]; !ok {
		e.names = append(e.names, name)
	}
	e.values[name] = value
	return e
}

// Get returns an attribute value.
func (e *Element) Get(name string) (any, bool) {
	v, ok := e.values[name]
	return v, ok
}

// Append adds children in order. Cycles are allowed.
func (e *Element) Append(children ...*Element) *Element {
	e.children = append(e.children, children...)
	return e
}

// SetChildren replaces the children.
func (e *Element) SetChildren(children ...*Element) *Element {
	e.children = children
	return e
}

// Navigate sets the navigation-ordered children.
func (e *Element) Navigate(children ...*Element) *Element {
	e.navigation = children
	return e
}

// WithActions sets the supported actions.
func (e *Element) WithActions(actions ...string) *Element {
	e.actions = actions
	return e
}

// Graph is an in-memory ax.Adapter. It is safe for concurrent use.
type Graph struct {
	apps      map[string]*Element
	hit       func(x, y float64) *Element
	failing   map[string]error
	reads     map[*Element]int
	performed map[*Element][]string
	released  []ax.Ref
	mu        sync.Mutex
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		apps:      make(map[string]*Element),
		failing:   make(map[string]error),
		reads:     make(map[*Element]int),
		performed: make(map[*Element][]string),
	}
}

// AddApplication registers a running application.
func (g *Graph) AddApplication(name string, root *Element) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.apps[name] = root
}

// SetHitTest sets the function answering ElementAtPosition.
func (g *Graph) SetHitTest(fn func(x, y float64) *Element) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hit = fn
}

// FailAttribute makes every read of the named attribute fail with err.
func (g *Graph) FailAttribute(name string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failing[name] = err
}

// Reads returns how many times the element's attribute names were listed,
// which is once per expansion.
func (g *Graph) Reads(e *Element) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reads[e]
}

// Performed returns the actions performed on e.
func (g *Graph) Performed(e *Element) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.performed[e])
}

// Released returns every reference passed to Release.
func (g *Graph) Released() []ax.Ref {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.released)
}

func element(ref ax.Ref) (*Element, error) {
	e, ok := ref.(*Element)
	if !ok || e == nil {
		return nil, fmt.Errorf("%w: foreign reference %T", ax.ErrNotFound, ref)
	}
	if e.Stale {
		return nil, fmt.Errorf("%w: stale element", ax.ErrNotFound)
	}
	return e, nil
}

// Application implements ax.Adapter.
func (g *Graph) Application(name string) (ax.Ref, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	root, ok := g.apps[name]
	if !ok {
		return nil, fmt.Errorf("%w: application %q is not running", ax.ErrNotFound, name)
	}
	return root, nil
}

// AttributeNames implements ax.Adapter.
func (g *Graph) AttributeNames(ref ax.Ref) ([]string, error) {
	e, err := element(ref)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reads[e]++
	names := slices.Clone(e.names)
	if len(e.children) > 0 {
		names = append(names, ax.AttrChildren)
	}
	if len(e.navigation) > 0 {
		names = append(names, ax.AttrNavigationChildren)
	}
	return names, nil
}

// AttributeValue implements ax.Adapter.
func (g *Graph) AttributeValue(ref ax.Ref, name string) (any, error) {
	e, err := element(ref)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failing[name]; err != nil {
		return nil, err
	}
	switch name {
	case ax.AttrChildren:
		if len(e.children) == 0 {
			return nil, fmt.Errorf("%w: %s", ax.ErrNotFound, name)
		}
		return refs(e.children), nil
	case ax.AttrNavigationChildren:
		if len(e.navigation) == 0 {
			return nil, fmt.Errorf("%w: %s", ax.ErrNotFound, name)
		}
		return refs(e.navigation), nil
	}
	v, ok := e.values[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ax.ErrNotFound, name)
	}
	return v, nil
}

func refs(elems []*Element) []ax.Ref {
	out := make([]ax.Ref, len(elems))
	for i, c := range elems {
		out[i] = c
	}
	return out
}

// ActionNames implements ax.Adapter.
func (g *Graph) ActionNames(ref ax.Ref) ([]string, error) {
	e, err := element(ref)
	if err != nil {
		return nil, err
	}
	return slices.Clone(e.actions), nil
}

// PerformAction implements ax.Adapter.
func (g *Graph) PerformAction(ref ax.Ref, action string) error {
	e, err := element(ref)
	if err != nil {
		return err
	}
	if !slices.Contains(e.actions, action) {
		return fmt.Errorf("%w: action %s", ax.ErrUnsupported, action)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.performed[e] = append(g.performed[e], action)
	return nil
}

// SetAttributeValue implements ax.Adapter. Only attributes the element
// already has can be written.
func (g *Graph) SetAttributeValue(ref ax.Ref, name string, value any) error {
	e, err := element(ref)
	if err != nil {
		return err
	}
	if err := ax.CheckSettable(value); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := e.values[name]; !ok {
		return fmt.Errorf("%w: attribute %s", ax.ErrUnsupported, name)
	}
	e.values[name] = value
	return nil
}

// ElementAtPosition implements ax.Adapter.
func (g *Graph) ElementAtPosition(app ax.Ref, x, y float64) (ax.Ref, error) {
	if _, err := element(app); err != nil {
		return nil, err
	}
	g.mu.Lock()
	hit := g.hit
	g.mu.Unlock()
	if hit == nil {
		return nil, fmt.Errorf("%w: no element at (%g, %g)", ax.ErrNotFound, x, y)
	}
	e := hit(x, y)
	if e == nil {
		return nil, fmt.Errorf("%w: no element at (%g, %g)", ax.ErrNotFound, x, y)
	}
	return e, nil
}

// Release implements ax.Releaser by recording the references.
func (g *Graph) Release(refs ...ax.Ref) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.released = append(g.released, refs...)
}

var (
	_ ax.Adapter  = (*Graph)(nil)
	_ ax.Releaser = (*Graph)(nil)
)
