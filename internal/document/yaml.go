// Copyright 2025 Joseph Cumines
//
// YAML codec for documents

package document

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrMalformed is returned when text cannot be parsed as a document.
var ErrMalformed = errors.New("malformed document")

// maxAliasDepth bounds alias expansion while decoding.
const maxAliasDepth = 64

// Parse decodes YAML text into a document value. The root may be a mapping,
// a sequence or a scalar. Empty input is malformed.
func Parse(text string) (any, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty input", ErrMalformed)
	}

	var root yaml.Node
	if err := yaml.Unmarshal([]byte(text), &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, fmt.Errorf("%w: no document", ErrMalformed)
	}

	v, err := fromNode(root.Content[0], 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}

// Marshal renders a document value as YAML with two-space indentation.
func Marshal(v any) (string, error) {
	n, err := toNode(v)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(n); err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}
	return buf.String(), nil
}

func fromNode(n *yaml.Node, aliasDepth int) (any, error) {
	switch n.Kind {
	case yaml.MappingNode:
		m := NewMap(len(n.Content) / 2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k := n.Content[i]
			if k.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: mapping keys must be scalars", k.Line)
			}
			v, err := fromNode(n.Content[i+1], aliasDepth)
			if err != nil {
				return nil, err
			}
			m.Set(k.Value, v)
		}
		return m, nil

	case yaml.SequenceNode:
		list := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := fromNode(c, aliasDepth)
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		return list, nil

	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %v", n.Line, err)
		}
		return normalizeScalar(v), nil

	case yaml.AliasNode:
		if aliasDepth >= maxAliasDepth || n.Alias == nil {
			return nil, fmt.Errorf("line %d: alias too deep", n.Line)
		}
		return fromNode(n.Alias, aliasDepth+1)

	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return fromNode(n.Content[0], aliasDepth)

	default:
		return nil, fmt.Errorf("line %d: unexpected node kind %d", n.Line, n.Kind)
	}
}

func normalizeScalar(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case uint64:
		if t <= math.MaxInt64 {
			return int64(t)
		}
		return float64(t)
	default:
		return v
	}
}

func toNode(v any) (*yaml.Node, error) {
	switch t := v.(type) {
	case *Map:
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		if t == nil {
			return n, nil
		}
		for _, k := range t.keys {
			kn := &yaml.Node{}
			if err := kn.Encode(k); err != nil {
				return nil, fmt.Errorf("failed to encode key %q: %w", k, err)
			}
			vn, err := toNode(t.values[k])
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, kn, vn)
		}
		return n, nil

	case []any:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, e := range t {
			en, err := toNode(e)
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, en)
		}
		return n, nil

	case nil:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil

	case string, bool, int, int32, int64, uint, uint32, uint64, float32, float64:
		n := &yaml.Node{}
		if err := n.Encode(t); err != nil {
			return nil, fmt.Errorf("failed to encode %v: %w", t, err)
		}
		return n, nil

	default:
		return nil, fmt.Errorf("unsupported document value %T", v)
	}
}
