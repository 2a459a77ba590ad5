// Copyright 2025 Joseph Cumines
//
// Attribute value normalization

package explorer

import (
	"fmt"
	"math"
	"net/url"
	"slices"
	"sort"

	"github.com/joeycumines/axplorer/internal/ax"
)

// mandatoryAttributes are always attempted, in this order, before the
// attributes the element reports.
var mandatoryAttributes = []string{
	ax.AttrTitle,
	ax.AttrLabel,
	ax.AttrRole,
	ax.AttrSubrole,
	ax.AttrDescription,
	ax.AttrValue,
	ax.AttrHelp,
}

// structuralAttributes link elements to each other; expanding them as
// attributes would duplicate the tree or walk back up it.
var structuralAttributes = map[string]struct{}{
	ax.AttrChildren:           {},
	ax.AttrVisibleChildren:    {},
	ax.AttrNavigationChildren: {},
	ax.AttrSelectedChildren:   {},
	ax.AttrParent:             {},
	ax.AttrTopLevelElement:    {},
}

// invalidURL is emitted for resource locators that cannot be rendered.
const invalidURL = "<invalid url>"

// attributeNames returns the names to read for an element: the mandatory
// list, then every reported name that is neither mandatory, structural nor a
// duplicate.
func attributeNames(reported []string) []string {
	names := make([]string, 0, len(mandatoryAttributes)+len(reported))
	names = append(names, mandatoryAttributes...)
	for _, name := range reported {
		if name == "" || slices.Contains(names, name) {
			continue
		}
		if _, ok := structuralAttributes[name]; ok {
			continue
		}
		names = append(names, name)
	}
	return names
}

// attributes builds the attribute mapping of exactly one element. Nested
// references found in values are expanded at depth+1.
func (w *walker) attributes(ref ax.Ref, depth int) ax.Mapping {
	reported, err := w.adapter.AttributeNames(ref)
	if err != nil {
		w.logger.Debug("attribute names unavailable", "err", err)
	}

	var attrs ax.Mapping
	for _, name := range attributeNames(reported) {
		raw, err := w.adapter.AttributeValue(ref, name)
		w.stats.AttributeReads++
		if err != nil {
			continue
		}
		if v := w.normalize(raw, depth); v != nil {
			attrs = append(attrs, ax.Field{Name: name, Value: v})
		}
	}

	actions, err := w.adapter.ActionNames(ref)
	if err != nil {
		w.logger.Debug("action names unavailable", "err", err)
	}
	if len(actions) > 0 {
		list := make(ax.List, 0, len(actions))
		for _, a := range actions {
			if a != "" {
				list = append(list, ax.String(a))
			}
		}
		if len(list) > 0 {
			attrs = append(attrs, ax.Field{Name: ax.AttrActions, Value: list})
		}
	}

	return attrs
}

// normalize converts one raw adapter value. A nil result means the value is
// empty and its attribute is to be omitted. It never panics on unknown
// categories: those become ax.Unsupported.
func (w *walker) normalize(raw any, depth int) ax.Value {
	switch t := raw.(type) {
	case nil:
		return nil

	case ax.Ref:
		if node := w.visit(t, depth+1); node != nil {
			return ax.Nested{Node: node}
		}
		return nil

	case ax.Point:
		return t
	case ax.Size:
		return t
	case ax.Rect:
		return t
	case ax.Range:
		return t

	case string:
		if t == "" {
			return nil
		}
		return ax.String(t)

	case ax.URL:
		return urlValue(string(t))
	case *url.URL:
		if t == nil {
			return ax.String(invalidURL)
		}
		return ax.String(t.String())

	case bool:
		return ax.Bool(t)
	case int:
		return ax.Int(t)
	case int8:
		return ax.Int(t)
	case int16:
		return ax.Int(t)
	case int32:
		return ax.Int(t)
	case int64:
		return ax.Int(t)
	case uint:
		return unsigned(uint64(t))
	case uint8:
		return ax.Int(t)
	case uint16:
		return ax.Int(t)
	case uint32:
		return ax.Int(t)
	case uint64:
		return unsigned(t)
	case float32:
		return ax.Number(float64(t))
	case float64:
		return ax.Number(t)

	case []any:
		return w.list(len(t), func(i int) any { return t[i] }, depth)
	case []ax.Ref:
		return w.list(len(t), func(i int) any { return t[i] }, depth)
	case []string:
		return w.list(len(t), func(i int) any { return t[i] }, depth)

	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make(ax.OrderedMap, len(keys))
		for i, k := range keys {
			fields[i] = ax.RawField{Name: k, Value: t[k]}
		}
		return w.mapping(fields, depth)
	case ax.OrderedMap:
		return w.mapping(t, depth)

	case ax.Opaque:
		return ax.Unsupported{Tag: t.Tag}

	default:
		return ax.Unsupported{Tag: fmt.Sprintf("%T", raw)}
	}
}

func unsigned(v uint64) ax.Value {
	if v > math.MaxInt64 {
		return ax.Float(float64(v))
	}
	return ax.Int(int64(v))
}

func urlValue(s string) ax.Value {
	if s == "" {
		return ax.String(invalidURL)
	}
	u, err := url.Parse(s)
	if err != nil {
		return ax.String(invalidURL)
	}
	return ax.String(u.String())
}

// list normalizes each element independently. Empty elements are dropped; a
// list with nothing but empty or unsupported elements is omitted.
func (w *walker) list(n int, at func(int) any, depth int) ax.Value {
	out := make(ax.List, 0, n)
	supported := false
	for i := 0; i < n; i++ {
		v := w.normalize(at(i), depth)
		if v == nil {
			continue
		}
		if _, ok := v.(ax.Unsupported); !ok {
			supported = true
		}
		out = append(out, v)
	}
	if !supported {
		return nil
	}
	return out
}

// mapping applies the list rule to the values of a mapping.
func (w *walker) mapping(fields ax.OrderedMap, depth int) ax.Value {
	out := make(ax.Mapping, 0, len(fields))
	supported := false
	for _, f := range fields {
		v := w.normalize(f.Value, depth)
		if v == nil {
			continue
		}
		if _, ok := v.(ax.Unsupported); !ok {
			supported = true
		}
		out = append(out, ax.Field{Name: f.Name, Value: v})
	}
	if !supported {
		return nil
	}
	return out
}
