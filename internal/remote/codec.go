// Copyright 2025 Joseph Cumines
//
// Wire encoding of raw adapter values

package remote

import (
	"fmt"
	"net/url"
	"sort"

	"github.com/joeycumines/axplorer/internal/ax"
	"google.golang.org/protobuf/types/known/structpb"
)

// typeKey tags structs that carry a raw value category other than the JSON
// natives. Mappings are always tagged so they cannot be confused with these.
const typeKey = "@type"

// Value tags.
const (
	tagPoint  = "point"
	tagSize   = "size"
	tagRect   = "rect"
	tagRange  = "range"
	tagRef    = "ref"
	tagURL    = "url"
	tagMap    = "map"
	tagOpaque = "opaque"
)

// encoder turns references into handles.
type encoder func(ax.Ref) (string, error)

// decoder turns handles into references.
type decoder func(handle string) ax.Ref

func tagged(tag string, fields map[string]*structpb.Value) *structpb.Value {
	fields[typeKey] = structpb.NewStringValue(tag)
	return structpb.NewStructValue(&structpb.Struct{Fields: fields})
}

func encodeValue(raw any, handle encoder) (*structpb.Value, error) {
	switch t := raw.(type) {
	case nil:
		return structpb.NewNullValue(), nil
	case ax.Ref:
		h, err := handle(t)
		if err != nil {
			return nil, err
		}
		return tagged(tagRef, map[string]*structpb.Value{"handle": structpb.NewStringValue(h)}), nil
	case string:
		return structpb.NewStringValue(t), nil
	case bool:
		return structpb.NewBoolValue(t), nil
	case int:
		return structpb.NewNumberValue(float64(t)), nil
	case int8:
		return structpb.NewNumberValue(float64(t)), nil
	case int16:
		return structpb.NewNumberValue(float64(t)), nil
	case int32:
		return structpb.NewNumberValue(float64(t)), nil
	case int64:
		return structpb.NewNumberValue(float64(t)), nil
	case uint:
		return structpb.NewNumberValue(float64(t)), nil
	case uint8:
		return structpb.NewNumberValue(float64(t)), nil
	case uint16:
		return structpb.NewNumberValue(float64(t)), nil
	case uint32:
		return structpb.NewNumberValue(float64(t)), nil
	case uint64:
		return structpb.NewNumberValue(float64(t)), nil
	case float32:
		return structpb.NewNumberValue(float64(t)), nil
	case float64:
		return structpb.NewNumberValue(t), nil
	case ax.Point:
		return tagged(tagPoint, map[string]*structpb.Value{
			"x": structpb.NewNumberValue(t.X),
			"y": structpb.NewNumberValue(t.Y),
		}), nil
	case ax.Size:
		return tagged(tagSize, map[string]*structpb.Value{
			"width":  structpb.NewNumberValue(t.W),
			"height": structpb.NewNumberValue(t.H),
		}), nil
	case ax.Rect:
		return tagged(tagRect, map[string]*structpb.Value{
			"x":      structpb.NewNumberValue(t.X),
			"y":      structpb.NewNumberValue(t.Y),
			"width":  structpb.NewNumberValue(t.W),
			"height": structpb.NewNumberValue(t.H),
		}), nil
	case ax.Range:
		return tagged(tagRange, map[string]*structpb.Value{
			"location": structpb.NewNumberValue(float64(t.Location)),
			"length":   structpb.NewNumberValue(float64(t.Length)),
		}), nil
	case ax.URL:
		return tagged(tagURL, map[string]*structpb.Value{"href": structpb.NewStringValue(string(t))}), nil
	case *url.URL:
		href := ""
		if t != nil {
			href = t.String()
		}
		return tagged(tagURL, map[string]*structpb.Value{"href": structpb.NewStringValue(href)}), nil
	case ax.Opaque:
		return tagged(tagOpaque, map[string]*structpb.Value{"tag": structpb.NewStringValue(t.Tag)}), nil
	case []any:
		return encodeList(len(t), func(i int) any { return t[i] }, handle)
	case []ax.Ref:
		return encodeList(len(t), func(i int) any { return t[i] }, handle)
	case []string:
		return encodeList(len(t), func(i int) any { return t[i] }, handle)
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
		return encodeMap(fields, handle)
	case ax.OrderedMap:
		return encodeMap(t, handle)
	default:
		// the receiving normalizer renders this exactly as it would the
		// original value
		return encodeValue(ax.Opaque{Tag: fmt.Sprintf("%T", raw)}, handle)
	}
}

func encodeList(n int, at func(int) any, handle encoder) (*structpb.Value, error) {
	values := make([]*structpb.Value, n)
	for i := range n {
		v, err := encodeValue(at(i), handle)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return structpb.NewListValue(&structpb.ListValue{Values: values}), nil
}

func encodeMap(fields ax.OrderedMap, handle encoder) (*structpb.Value, error) {
	entries := make([]*structpb.Value, len(fields))
	for i, f := range fields {
		v, err := encodeValue(f.Value, handle)
		if err != nil {
			return nil, err
		}
		entries[i] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"name":  structpb.NewStringValue(f.Name),
			"value": v,
		}})
	}
	return tagged(tagMap, map[string]*structpb.Value{
		"entries": structpb.NewListValue(&structpb.ListValue{Values: entries}),
	}), nil
}

func decodeValue(v *structpb.Value, ref decoder) (any, error) {
	switch k := v.GetKind().(type) {
	case nil, *structpb.Value_NullValue:
		return nil, nil
	case *structpb.Value_StringValue:
		return k.StringValue, nil
	case *structpb.Value_BoolValue:
		return k.BoolValue, nil
	case *structpb.Value_NumberValue:
		return k.NumberValue, nil
	case *structpb.Value_ListValue:
		values := k.ListValue.GetValues()
		out := make([]any, len(values))
		for i, e := range values {
			d, err := decodeValue(e, ref)
			if err != nil {
				return nil, err
			}
			out[i] = d
		}
		return out, nil
	case *structpb.Value_StructValue:
		return decodeTagged(k.StructValue.GetFields(), ref)
	default:
		return nil, fmt.Errorf("unexpected value kind %T", k)
	}
}

func decodeTagged(fields map[string]*structpb.Value, ref decoder) (any, error) {
	tag := fields[typeKey].GetStringValue()
	num := func(name string) float64 { return fields[name].GetNumberValue() }
	str := func(name string) string { return fields[name].GetStringValue() }

	switch tag {
	case tagPoint:
		return ax.Point{X: num("x"), Y: num("y")}, nil
	case tagSize:
		return ax.Size{W: num("width"), H: num("height")}, nil
	case tagRect:
		return ax.Rect{X: num("x"), Y: num("y"), W: num("width"), H: num("height")}, nil
	case tagRange:
		return ax.Range{Location: int64(num("location")), Length: int64(num("length"))}, nil
	case tagURL:
		return ax.URL(str("href")), nil
	case tagRef:
		h := str("handle")
		if h == "" {
			return nil, fmt.Errorf("reference without handle")
		}
		return ref(h), nil
	case tagOpaque:
		return ax.Opaque{Tag: str("tag")}, nil
	case tagMap:
		entries := fields["entries"].GetListValue().GetValues()
		out := make(ax.OrderedMap, 0, len(entries))
		for _, e := range entries {
			ef := e.GetStructValue().GetFields()
			v, err := decodeValue(ef["value"], ref)
			if err != nil {
				return nil, err
			}
			out = append(out, ax.RawField{Name: ef["name"].GetStringValue(), Value: v})
		}
		return out, nil
	case "":
		return nil, fmt.Errorf("struct value without %s", typeKey)
	default:
		return ax.Opaque{Tag: tag}, nil
	}
}
