// Copyright 2025 Joseph Cumines
//
// Package ax defines the boundary between the snapshot engine and the
// platform accessibility service: opaque element references, the Adapter
// interface the engine consumes, the raw value categories an adapter may
// return, and the normalized attribute value sum type.

package ax

import "errors"

var (
	// ErrNotFound reports an absent application, element or attribute.
	ErrNotFound = errors.New("not found")

	// ErrUnsupported reports a value, attribute or action the adapter rejects.
	ErrUnsupported = errors.New("unsupported")
)

// Accessibility attribute names used by the engine.
const (
	AttrTitle              = "AXTitle"
	AttrLabel              = "AXLabel"
	AttrRole               = "AXRole"
	AttrSubrole            = "AXSubrole"
	AttrRoleDescription    = "AXRoleDescription"
	AttrDescription        = "AXDescription"
	AttrValue              = "AXValue"
	AttrHelp               = "AXHelp"
	AttrEnabled            = "AXEnabled"
	AttrChildren           = "AXChildren"
	AttrVisibleChildren    = "AXVisibleChildren"
	AttrNavigationChildren = "AXChildrenInNavigationOrder"
	AttrSelectedChildren   = "AXSelectedChildren"
	AttrParent             = "AXParent"
	AttrTopLevelElement    = "AXTopLevelUIElement"
	AttrMainWindow         = "AXMainWindow"
	AttrFocusedWindow      = "AXFocusedWindow"
	AttrMenuBar            = "AXMenuBar"
	AttrWindows            = "AXWindows"

	// AttrActions is the synthetic key under which supported action names are
	// attached to a snapshot node.
	AttrActions = "AXActions"
)

// Action names.
const (
	ActionPress    = "AXPress"
	ActionShowMenu = "AXShowMenu"
	ActionRaise    = "AXRaise"
)

// Ref is an opaque, borrowed handle to a live element of the accessibility
// graph. Implementations embed RefMarker and must be comparable (pointers or
// integer handles): the engine uses refs as map keys.
//
// A Ref may become logically stale at any moment; the engine never assumes
// one is valid beyond the call that produced it.
type Ref interface {
	axRef()
}

// RefMarker is embedded by adapter reference types to implement Ref.
type RefMarker struct{}

func (RefMarker) axRef() {}

// Adapter is the platform accessibility service as seen by the engine.
//
// Every method may perform an inter-process round trip. Timeouts, if any, are
// the adapter's business. Missing items are reported with errors wrapping
// ErrNotFound; rejected values or actions with errors wrapping ErrUnsupported.
type Adapter interface {
	// Application returns the root element of the running application with
	// the given name.
	Application(name string) (Ref, error)

	// AttributeNames lists the attribute names the element reports.
	AttributeNames(ref Ref) ([]string, error)

	// AttributeValue returns the raw value of one attribute. See Normalize for
	// the raw categories understood by the engine.
	AttributeValue(ref Ref, name string) (any, error)

	// ActionNames lists the actions the element supports, in adapter order.
	ActionNames(ref Ref) ([]string, error)

	// PerformAction dispatches a named action to the element.
	PerformAction(ref Ref, action string) error

	// SetAttributeValue mutates one attribute. Value is a string, bool or
	// float64.
	SetAttributeValue(ref Ref, name string, value any) error

	// ElementAtPosition returns the element under a screen coordinate, as
	// seen from the given application element.
	ElementAtPosition(app Ref, x, y float64) (Ref, error)
}

// Releaser is optionally implemented by adapters that hold resources per
// handed-out reference. The engine calls Release for references it no longer
// tracks.
type Releaser interface {
	Release(refs ...Ref)
}
