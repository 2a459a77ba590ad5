// Copyright 2025 Joseph Cumines
//
// Graph traversal

package explorer

import (
	"log/slog"

	"github.com/joeycumines/axplorer/internal/ax"
	"github.com/joeycumines/axplorer/internal/logging"
)

// Stats describes one traversal.
type Stats struct {
	// Nodes is the number of elements expanded (and IDs issued).
	Nodes int
	// AttributeReads is the number of attribute values requested.
	AttributeReads int
	// Truncated counts references skipped for exceeding the depth limit.
	Truncated int
	// Revisits counts references skipped because they were already expanded.
	Revisits int
}

// walker holds the state of one traversal call: a single ID counter and a
// single visited set, shared by children and by references nested in
// attribute values.
type walker struct {
	adapter  ax.Adapter
	logger   *slog.Logger
	visited  map[ax.Ref]struct{}
	seen     map[ax.Ref]struct{}
	table    HandleTable
	stats    Stats
	maxDepth int
	nextID   int
}

// traversal is the outcome of one walk.
type traversal struct {
	root  *ax.Node
	table HandleTable
	// seen holds every reference encountered, expanded or not.
	seen  map[ax.Ref]struct{}
	stats Stats
}

// walk expands the graph below root, at most maxDepth levels deep, returning
// the root node and the handle table of every ID issued. IDs start at 1 and
// are unique within the call. Revisited references and references beyond
// maxDepth are silently left out of their parent.
//
// walk never fails: adapter errors drop the affected attribute or child.
func walk(adapter ax.Adapter, root ax.Ref, maxDepth int, logger *slog.Logger) traversal {
	w := newWalker(adapter, maxDepth, logger)
	node := w.visit(root, 0)
	return traversal{root: node, table: w.table, seen: w.seen, stats: w.stats}
}

func newWalker(adapter ax.Adapter, maxDepth int, logger *slog.Logger) *walker {
	if maxDepth < 0 {
		maxDepth = 0
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &walker{
		adapter:  adapter,
		logger:   logger,
		maxDepth: maxDepth,
		visited:  make(map[ax.Ref]struct{}),
		seen:     make(map[ax.Ref]struct{}),
		table:    make(HandleTable),
	}
}

// visit returns nil for a reference that must not be expanded.
func (w *walker) visit(ref ax.Ref, depth int) *ax.Node {
	if ref == nil {
		return nil
	}
	w.seen[ref] = struct{}{}
	if depth > w.maxDepth {
		w.stats.Truncated++
		return nil
	}
	if _, ok := w.visited[ref]; ok {
		w.stats.Revisits++
		return nil
	}
	w.visited[ref] = struct{}{}

	w.nextID++
	node := &ax.Node{ID: w.nextID}
	w.table[node.ID] = ref
	w.stats.Nodes++

	node.Attributes = w.attributes(ref, depth)

	for _, child := range w.children(ref) {
		if c := w.visit(child, depth+1); c != nil {
			node.Children = append(node.Children, ax.Child{Key: ax.ChildKey(c.ID), Node: c})
		}
	}

	return node
}

// children prefers the navigation order, falling back to the default order.
func (w *walker) children(ref ax.Ref) []ax.Ref {
	for _, name := range []string{ax.AttrNavigationChildren, ax.AttrChildren} {
		raw, err := w.adapter.AttributeValue(ref, name)
		if err != nil {
			continue
		}
		if refs := refsOf(raw); len(refs) > 0 {
			return refs
		}
	}
	return nil
}

func refsOf(raw any) []ax.Ref {
	switch t := raw.(type) {
	case []ax.Ref:
		return t
	case []any:
		refs := make([]ax.Ref, 0, len(t))
		for _, e := range t {
			if r, ok := e.(ax.Ref); ok && r != nil {
				refs = append(refs, r)
			}
		}
		return refs
	default:
		return nil
	}
}
