// Copyright 2025 Joseph Cumines
//
// Package cells post-processes snapshot documents of spreadsheet-like
// applications: every table cell is collapsed into a flat record carrying
// its visible text and value, and redundant attributes are stripped from the
// rest of the tree.

package cells

import (
	"fmt"
	"strings"

	"github.com/joeycumines/axplorer/internal/ax"
	"github.com/joeycumines/axplorer/internal/document"
)

// Keys of a flattened cell record.
const (
	KeyCell  = "cell"
	KeyValue = "value"
)

const (
	cellRoleDescription = "cell"
	textEntryArea       = "text entry area"
)

// NoisyKeys are the geometry and text-metric attributes Compact removes
// before flattening.
var NoisyKeys = []string{
	"AXFrame",
	"AXPosition",
	"AXSize",
	"AXRectInParentSpace",
	"AXVisibleCharacterRange",
	"AXSharedCharacterRange",
	"AXSelectedTextRange",
	"AXNumberOfCharacters",
	"AXInsertionPointLineNumber",
	"AXFocused",
	"AXColumnIndexRange",
	"AXRowIndexRange",
	"AXOrientation",
}

// helpBoilerplate lists help texts that carry no information about the
// element they are attached to. Compared case-insensitively.
var helpBoilerplate = []string{
	"click to select",
	"double-click to edit",
	"double click to edit",
	"press to activate",
}

// redundantAttributes are implied by AXRoleDescription.
var redundantAttributes = []string{
	ax.AttrRole,
	ax.AttrSubrole,
	ax.AttrEnabled,
}

// IsCell reports whether an attributes mapping describes a table cell: its
// role contains "cell" and its role description is exactly "cell".
func IsCell(attrs *document.Map) bool {
	role, ok := attrs.Text(ax.AttrRole)
	if !ok || !strings.Contains(strings.ToLower(role), cellRoleDescription) {
		return false
	}
	desc, ok := attrs.Text(ax.AttrRoleDescription)
	return ok && desc == cellRoleDescription
}

// Flatten returns a copy of doc in which the outermost node of every cell
// subtree is replaced by a flat record, and every other node carrying
// AXRoleDescription has its redundant attributes removed.
//
// A cell record keeps the node's id (when present), then the merged
// description as "cell" and the merged value as "value". The id is kept only
// so the record stays actionable: it still resolves through the handle table
// of the snapshot it came from. Descendants are
// merged into the cell in pre-order, the last one setting a field winning.
// Cells nested inside a cell only feed the outer record.
func Flatten(doc any) any {
	return flatten(document.Clone(doc))
}

// Compact removes NoisyKeys then flattens.
func Compact(doc any) any {
	return flatten(document.RemoveKeys(doc, NoisyKeys))
}

// FlattenYAML is Flatten over YAML text.
func FlattenYAML(text string) (string, error) {
	return transformYAML(text, Flatten)
}

// CompactYAML is Compact over YAML text.
func CompactYAML(text string) (string, error) {
	return transformYAML(text, Compact)
}

func transformYAML(text string, fn func(any) any) (string, error) {
	doc, err := document.Parse(text)
	if err != nil {
		return "", err
	}
	out, err := document.Marshal(fn(doc))
	if err != nil {
		return "", fmt.Errorf("failed to render flattened document: %w", err)
	}
	return out, nil
}

// flatten rewrites v in place, returning the value to store in its parent.
func flatten(v any) any {
	switch t := v.(type) {
	case *document.Map:
		if t == nil {
			return t
		}
		if attrs, ok := t.Map(document.KeyAttributes); ok {
			if IsCell(attrs) {
				return collapse(t, attrs)
			}
			tidy(attrs)
		}
		for _, k := range t.Keys() {
			child, _ := t.Get(k)
			t.Set(k, flatten(child))
		}
		return t
	case []any:
		for i := range t {
			t[i] = flatten(t[i])
		}
		return t
	default:
		return v
	}
}

func collapse(node, attrs *document.Map) *document.Map {
	node.Range(func(k string, v any) bool {
		if k != document.KeyAttributes {
			absorbAll(v, attrs)
		}
		return true
	})

	out := document.NewMap(3)
	if id, ok := node.Get(document.KeyID); ok {
		out.Set(document.KeyID, id)
	}
	if desc, ok := attrs.Get(ax.AttrDescription); ok {
		out.Set(KeyCell, desc)
	}
	if value, ok := attrs.Get(ax.AttrValue); ok {
		out.Set(KeyValue, value)
	}
	return out
}

// absorbAll merges every node below v into attrs, in pre-order.
func absorbAll(v any, attrs *document.Map) {
	switch t := v.(type) {
	case *document.Map:
		if src, ok := t.Map(document.KeyAttributes); ok {
			absorb(src, attrs)
		}
		t.Range(func(k string, child any) bool {
			if k != document.KeyAttributes {
				absorbAll(child, attrs)
			}
			return true
		})
	case []any:
		for _, e := range t {
			absorbAll(e, attrs)
		}
	}
}

func absorb(src, dst *document.Map) {
	if v, ok := src.Get(ax.AttrDescription); ok {
		dst.Set(ax.AttrDescription, v)
	}
	if v, ok := src.Get(ax.AttrRoleDescription); ok {
		if s, ok := v.(string); ok && s == textEntryArea {
			v = cellRoleDescription
		}
		dst.Set(ax.AttrRoleDescription, v)
	}
	if v, ok := src.Get(ax.AttrValue); ok {
		dst.Set(ax.AttrValue, v)
	}
}

// tidy strips what AXRoleDescription makes redundant.
func tidy(attrs *document.Map) {
	if !attrs.Has(ax.AttrRoleDescription) {
		return
	}
	for _, k := range redundantAttributes {
		attrs.Delete(k)
	}

	if help, ok := attrs.Get(ax.AttrHelp); ok {
		if s, ok := help.(string); ok && uninformativeHelp(s, attrs) {
			attrs.Delete(ax.AttrHelp)
		}
	}

	if actions, ok := attrs.Get(ax.AttrActions); ok {
		if list, ok := actions.([]any); ok {
			kept := make([]any, 0, len(list))
			for _, a := range list {
				if a != ax.ActionShowMenu {
					kept = append(kept, a)
				}
			}
			if len(kept) == 0 {
				attrs.Delete(ax.AttrActions)
			} else {
				attrs.Set(ax.AttrActions, kept)
			}
		}
	}
}

func uninformativeHelp(help string, attrs *document.Map) bool {
	if title, ok := attrs.Text(ax.AttrTitle); ok && strings.Contains(title, help) {
		return true
	}
	normalized := strings.ToLower(strings.TrimSpace(help))
	for _, phrase := range helpBoilerplate {
		if normalized == phrase {
			return true
		}
	}
	return false
}
