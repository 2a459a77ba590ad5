// Copyright 2025 Joseph Cumines
//
// Explorer unit tests

package explorer

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/joeycumines/axplorer/internal/ax"
	"github.com/joeycumines/axplorer/internal/axtest"
	"github.com/joeycumines/axplorer/internal/document"
)

// calculator builds:
//
//	app (AXApplication, AXMainWindow -> window)
//	└── window
//	    ├── display
//	    └── seven
type calculator struct {
	graph   *axtest.Graph
	app     *axtest.Element
	window  *axtest.Element
	display *axtest.Element
	seven   *axtest.Element
}

func newCalculator() *calculator {
	c := &calculator{graph: axtest.NewGraph()}
	c.display = axtest.NewElement("AXStaticText", ax.AttrValue, "0")
	c.seven = axtest.NewElement("AXButton", ax.AttrDescription, "7").
		WithActions(ax.ActionPress, ax.ActionShowMenu)
	c.window = axtest.NewElement("AXWindow",
		ax.AttrTitle, "Calculator",
		"AXFrame", ax.Rect{X: 0, Y: 25, W: 230, H: 408.5},
	).Append(c.display, c.seven).WithActions(ax.ActionRaise)
	c.app = axtest.NewElement("AXApplication", ax.AttrTitle, "Calculator").
		Set(ax.AttrMainWindow, c.window).
		Append(c.window)
	c.graph.AddApplication("Calculator", c.app)
	return c
}

func (c *calculator) explorer(t *testing.T) *Explorer {
	t.Helper()
	e, err := New(c.graph, "Calculator")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func parse(t *testing.T, text string) *document.Map {
	t.Helper()
	v, err := document.Parse(text)
	if err != nil {
		t.Fatalf("Parse: %v\n%s", err, text)
	}
	m, ok := v.(*document.Map)
	if !ok {
		t.Fatalf("expected mapping root, got %T", v)
	}
	return m
}

// findID returns the id of the first node, in document order, whose
// attribute has the given string form.
func findID(t *testing.T, doc *document.Map, attr, value string) int {
	t.Helper()
	var find func(v any) (int, bool)
	find = func(v any) (int, bool) {
		switch n := v.(type) {
		case *document.Map:
			if attrs, ok := n.Map(document.KeyAttributes); ok {
				if s, ok := attrs.Text(attr); ok && s == value {
					id, _ := n.Get(document.KeyID)
					return int(id.(int64)), true
				}
			}
			for _, k := range n.Keys() {
				child, _ := n.Get(k)
				if id, ok := find(child); ok {
					return id, true
				}
			}
		case []any:
			for _, e := range n {
				if id, ok := find(e); ok {
					return id, true
				}
			}
		}
		return 0, false
	}
	id, ok := find(doc)
	if !ok {
		t.Fatalf("no node with %s=%q", attr, value)
	}
	return id
}

func collectIDs(n *ax.Node, out *[]int) {
	*out = append(*out, n.ID)
	for _, f := range n.Attributes {
		collectValueIDs(f.Value, out)
	}
	for _, c := range n.Children {
		collectIDs(c.Node, out)
	}
}

func collectValueIDs(v ax.Value, out *[]int) {
	switch t := v.(type) {
	case ax.Nested:
		collectIDs(t.Node, out)
	case ax.List:
		for _, e := range t {
			collectValueIDs(e, out)
		}
	case ax.Mapping:
		for _, f := range t {
			collectValueIDs(f.Value, out)
		}
	}
}

func TestNew_UnknownApplication(t *testing.T) {
	c := newCalculator()
	_, err := New(c.graph, "Safari")
	if !errors.Is(err, ax.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSnapshot_MaxDepthZero(t *testing.T) {
	e := newCalculator().explorer(t)

	out, err := e.Snapshot(Main, 0)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	doc := parse(t, out)

	want := map[string]any{
		"id": int64(1),
		"attributes": map[string]any{
			"AXTitle": "Calculator",
			"AXRole":  "AXWindow",
			"AXFrame": map[string]any{
				"x": int64(0), "y": int64(25), "width": int64(230), "height": 408.5,
			},
			"AXActions": []any{"AXRaise"},
		},
	}
	if diff := cmp.Diff(want, document.Plain(doc)); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	if doc.Has(document.KeyChildren) {
		t.Error("expected no children key at depth 0")
	}
	if got := e.store.Len(Main); got != 1 {
		t.Errorf("expected 1 handle, got %d", got)
	}
}

func TestSnapshot_AttributeOrder(t *testing.T) {
	g := axtest.NewGraph()
	root := axtest.NewElement("",
		"AXZeta", "z",
		ax.AttrHelp, "help",
		ax.AttrRole, "AXGroup",
		"AXAlpha", "a",
		ax.AttrTitle, "title",
		ax.AttrParent, axtest.NewElement("AXWindow"),
		ax.AttrTopLevelElement, axtest.NewElement("AXWindow"),
	).WithActions(ax.ActionPress)
	g.AddApplication("App", root)

	e, err := New(g, "App")
	if err != nil {
		t.Fatal(err)
	}
	out, err := e.Snapshot(App, 3)
	if err != nil {
		t.Fatal(err)
	}
	attrs, _ := parse(t, out).Map(document.KeyAttributes)

	want := []string{ax.AttrTitle, ax.AttrRole, ax.AttrHelp, "AXZeta", "AXAlpha", ax.AttrActions}
	if diff := cmp.Diff(want, attrs.Keys()); diff != "" {
		t.Errorf("attribute order mismatch (-want +got):\n%s", diff)
	}
}

func TestWalk_CyclesExpandOnce(t *testing.T) {
	g := axtest.NewGraph()
	root := axtest.NewElement("AXGroup", ax.AttrDescription, "root")
	a := axtest.NewElement("AXGroup", ax.AttrDescription, "a")
	b := axtest.NewElement("AXGroup", ax.AttrDescription, "b")
	// root -> a -> b -> root, and root -> b directly
	root.Append(a, b)
	a.Append(b)
	b.Append(root)
	// b also points back at a through an attribute
	b.Set("AXLinkedUIElements", []ax.Ref{a})

	tr := walk(g, root, 50, nil)
	node, table, stats := tr.root, tr.table, tr.stats

	for i, el := range []*axtest.Element{root, a, b} {
		if got := g.Reads(el); got != 1 {
			t.Errorf("element %d expanded %d times", i, got)
		}
	}
	if len(table) != 3 {
		t.Errorf("expected 3 handles, got %d", len(table))
	}
	if stats.Nodes != 3 {
		t.Errorf("expected 3 nodes, got %d", stats.Nodes)
	}
	if stats.Revisits == 0 {
		t.Error("expected revisits to be counted")
	}

	if len(node.Children) != 1 {
		t.Fatalf("expected root to keep only its first child, got %d", len(node.Children))
	}
	an := node.Children[0].Node
	if len(an.Children) != 1 {
		t.Fatalf("expected a to have b as child, got %d", len(an.Children))
	}
	bn := an.Children[0].Node
	if len(bn.Children) != 0 {
		t.Errorf("expected the back edge to root to be omitted, got %d children", len(bn.Children))
	}
	if _, ok := bn.Attribute("AXLinkedUIElements"); ok {
		t.Error("expected a list of already expanded references to be omitted")
	}
}

func TestWalk_IDsDistinctAndResolvable(t *testing.T) {
	g := axtest.NewGraph()
	root := axtest.NewElement("AXList")
	for i := 0; i < 4; i++ {
		row := axtest.NewElement("AXRow")
		for j := 0; j < 3; j++ {
			row.Append(axtest.NewElement("AXCell"))
		}
		root.Append(row)
	}
	g.AddApplication("Numbers", root)

	tr := walk(g, root, 10, nil)
	node, table := tr.root, tr.table

	var ids []int
	collectIDs(node, &ids)
	if len(ids) != 17 {
		t.Fatalf("expected 17 nodes, got %d", len(ids))
	}
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	if len(slices.Compact(sorted)) != len(ids) {
		t.Errorf("IDs are not pairwise distinct: %v", ids)
	}
	seen := make(map[ax.Ref]int)
	for _, id := range ids {
		if id <= 0 {
			t.Errorf("non-positive id %d", id)
		}
		ref, ok := table[id]
		if !ok {
			t.Errorf("id %d missing from table", id)
			continue
		}
		if prev, dup := seen[ref]; dup {
			t.Errorf("ids %d and %d resolve to the same element", prev, id)
		}
		seen[ref] = id
	}
}

func TestSnapshot_ResolveLatest(t *testing.T) {
	c := newCalculator()
	e := c.explorer(t)

	out, err := e.Snapshot(Main, 5)
	if err != nil {
		t.Fatal(err)
	}
	doc := parse(t, out)
	sevenID := findID(t, doc, ax.AttrDescription, "7")

	ref, err := e.Resolve(Main, sevenID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ref != ax.Ref(c.seven) {
		t.Errorf("id %d resolved to the wrong element", sevenID)
	}
	if _, err := e.Resolve(Main, 999); !errors.Is(err, ErrUnknownID) {
		t.Errorf("expected ErrUnknownID for unused id, got %v", err)
	}
	if _, err := e.Resolve(Focused, sevenID); !errors.Is(err, ErrUnknownID) {
		t.Errorf("expected ErrUnknownID in an unwritten context, got %v", err)
	}
}

// IDs are only unique per traversal. Resolving an ID issued by a superseded
// snapshot silently yields whichever element the newer snapshot issued it to.
func TestSnapshot_SupersededIDsAlias(t *testing.T) {
	c := newCalculator()
	e := c.explorer(t)

	out, err := e.Snapshot(Main, 5)
	if err != nil {
		t.Fatal(err)
	}
	oldID := findID(t, parse(t, out), ax.AttrValue, "0")

	eight := axtest.NewElement("AXButton", ax.AttrDescription, "8")
	c.window.SetChildren(eight, c.seven)

	out, err = e.Snapshot(Main, 5)
	if err != nil {
		t.Fatal(err)
	}
	newID := findID(t, parse(t, out), ax.AttrDescription, "8")
	if newID != oldID {
		t.Fatalf("test setup: expected id %d to be reissued, got %d", oldID, newID)
	}

	ref, err := e.Resolve(Main, oldID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ref != ax.Ref(eight) {
		t.Error("expected the superseded id to resolve to the newer snapshot's element")
	}
}

func TestSnapshot_ReplacesTableWholesale(t *testing.T) {
	c := newCalculator()
	e := c.explorer(t)

	if _, err := e.Snapshot(Main, 5); err != nil {
		t.Fatal(err)
	}
	if got := e.store.Len(Main); got != 3 {
		t.Fatalf("expected 3 handles, got %d", got)
	}
	if _, err := e.Snapshot(Main, 0); err != nil {
		t.Fatal(err)
	}
	if got := e.store.Len(Main); got != 1 {
		t.Errorf("expected table to be replaced, got %d handles", got)
	}
	if _, err := e.Resolve(Main, 2); !errors.Is(err, ErrUnknownID) {
		t.Errorf("expected ErrUnknownID, got %v", err)
	}
}

func TestSnapshot_AppEmbedsMainWindowOnce(t *testing.T) {
	e := newCalculator().explorer(t)

	out, err := e.Snapshot(App, 5)
	if err != nil {
		t.Fatal(err)
	}
	doc := parse(t, out)
	attrs, _ := doc.Map(document.KeyAttributes)
	window, ok := attrs.Map(ax.AttrMainWindow)
	if !ok {
		t.Fatal("expected AXMainWindow to be embedded as a nested node")
	}
	if id, _ := window.Get(document.KeyID); id != int64(2) {
		t.Errorf("expected nested window id 2, got %v", id)
	}
	if children, _ := window.Map(document.KeyChildren); children.Len() != 2 {
		t.Errorf("expected nested window to carry its 2 children, got %d", children.Len())
	}
	if doc.Has(document.KeyChildren) {
		t.Error("expected the already expanded window to be omitted from children")
	}
}

func TestSnapshot_PrefersNavigationOrder(t *testing.T) {
	g := axtest.NewGraph()
	a := axtest.NewElement("AXButton", ax.AttrDescription, "a")
	b := axtest.NewElement("AXButton", ax.AttrDescription, "b")
	root := axtest.NewElement("AXGroup").Append(a, b).Navigate(b, a)
	g.AddApplication("App", root)

	node := walk(g, root, 1, nil).root
	if len(node.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(node.Children))
	}
	first, _ := node.Children[0].Node.Attribute(ax.AttrDescription)
	if first != ax.String("b") {
		t.Errorf("expected navigation order, first child is %v", first)
	}
	if node.Children[0].Key != "element2" {
		t.Errorf("expected key element2, got %s", node.Children[0].Key)
	}
}

func TestSnapshot_AttributeErrorDropsAttribute(t *testing.T) {
	c := newCalculator()
	c.window.Set(ax.AttrHelp, "Calculator window")
	c.graph.FailAttribute(ax.AttrHelp, errors.New("kAXErrorCannotComplete"))
	e := c.explorer(t)

	out, err := e.Snapshot(Main, 0)
	if err != nil {
		t.Fatal(err)
	}
	attrs, _ := parse(t, out).Map(document.KeyAttributes)
	if attrs.Has(ax.AttrHelp) {
		t.Error("expected failing attribute to be dropped")
	}
	if !attrs.Has(ax.AttrTitle) {
		t.Error("expected other attributes to survive")
	}
}

func TestSnapshot_WindowContexts(t *testing.T) {
	c := newCalculator()
	menu := axtest.NewElement("AXMenuBar")
	c.app.Set(ax.AttrMenuBar, menu)
	e := c.explorer(t)

	if _, err := e.Snapshot(Menu, 1); err != nil {
		t.Errorf("Menu: %v", err)
	}
	if ref, _ := e.Resolve(Menu, 1); ref != ax.Ref(menu) {
		t.Error("expected Menu id 1 to be the menu bar")
	}
	if _, err := e.Snapshot(Focused, 1); !errors.Is(err, ErrNoRoot) {
		t.Errorf("Focused: expected ErrNoRoot, got %v", err)
	}
	if _, err := e.Snapshot(Query, 1); !errors.Is(err, ErrNoRoot) {
		t.Errorf("Query: expected ErrNoRoot, got %v", err)
	}
	if _, err := e.Snapshot(Context("Dock"), 1); !errors.Is(err, ErrUnknownContext) {
		t.Errorf("Dock: expected ErrUnknownContext, got %v", err)
	}
}

func TestSnapshotAt_WritesQuery(t *testing.T) {
	c := newCalculator()
	c.graph.SetHitTest(func(x, y float64) *axtest.Element {
		if x == 40 && y == 300 {
			return c.seven
		}
		return nil
	})
	e := c.explorer(t)

	out, err := e.SnapshotAt(40, 300, 2)
	if err != nil {
		t.Fatalf("SnapshotAt: %v", err)
	}
	attrs, _ := parse(t, out).Map(document.KeyAttributes)
	if d, _ := attrs.Text(ax.AttrDescription); d != "7" {
		t.Errorf("expected the seven button, got %q", d)
	}
	if ref, _ := e.Resolve(Query, 1); ref != ax.Ref(c.seven) {
		t.Error("expected Query id 1 to be the seven button")
	}

	if _, err := e.SnapshotAt(0, 0, 2); !errors.Is(err, ax.ErrNotFound) {
		t.Errorf("expected ErrNotFound off target, got %v", err)
	}
}

func TestResolveAndSnapshot_DrillDown(t *testing.T) {
	c := newCalculator()
	e := c.explorer(t)

	out, err := e.Snapshot(Main, 5)
	if err != nil {
		t.Fatal(err)
	}
	id := findID(t, parse(t, out), ax.AttrDescription, "7")

	out, err = e.ResolveAndSnapshot(Main, id, 0)
	if err != nil {
		t.Fatalf("ResolveAndSnapshot: %v", err)
	}
	doc := parse(t, out)
	if got, _ := doc.Get(document.KeyID); got != int64(1) {
		t.Errorf("expected drilled-down root id 1, got %v", got)
	}
	if ref, _ := e.Resolve(Query, 1); ref != ax.Ref(c.seven) {
		t.Error("expected Query id 1 to be the seven button")
	}
	if ref, _ := e.Resolve(Main, id); ref != ax.Ref(c.seven) {
		t.Error("expected the Main table to be untouched")
	}

	// drilling from the Query context into itself replaces it
	if _, err := e.ResolveAndSnapshot(Query, 1, 0); err != nil {
		t.Errorf("Query drill-down: %v", err)
	}
	if _, err := e.ResolveAndSnapshot(Main, 999, 0); !errors.Is(err, ErrUnknownID) {
		t.Errorf("expected ErrUnknownID, got %v", err)
	}
}

func TestPerformAction(t *testing.T) {
	c := newCalculator()
	e := c.explorer(t)

	out, err := e.Snapshot(Main, 5)
	if err != nil {
		t.Fatal(err)
	}
	id := findID(t, parse(t, out), ax.AttrDescription, "7")

	if err := e.PerformAction(Main, id, ax.ActionPress); err != nil {
		t.Fatalf("PerformAction: %v", err)
	}
	if diff := cmp.Diff([]string{ax.ActionPress}, c.graph.Performed(c.seven)); diff != "" {
		t.Errorf("performed mismatch (-want +got):\n%s", diff)
	}
	if err := e.PerformAction(Main, id, "AXIncrement"); !errors.Is(err, ax.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
	if err := e.PerformAction(Main, 999, ax.ActionPress); !errors.Is(err, ErrUnknownID) {
		t.Errorf("expected ErrUnknownID, got %v", err)
	}

	c.seven.Stale = true
	if err := e.PerformAction(Main, id, ax.ActionPress); !errors.Is(err, ax.ErrNotFound) {
		t.Errorf("expected ErrNotFound for a destroyed element, got %v", err)
	}
}

func TestSetAttribute(t *testing.T) {
	c := newCalculator()
	e := c.explorer(t)

	out, err := e.Snapshot(Main, 5)
	if err != nil {
		t.Fatal(err)
	}
	id := findID(t, parse(t, out), ax.AttrValue, "0")

	if err := e.SetAttribute(Main, id, ax.AttrValue, "42"); err != nil {
		t.Fatalf("SetAttribute: %v", err)
	}
	if v, _ := c.display.Get(ax.AttrValue); v != "42" {
		t.Errorf("expected value to be written, got %v", v)
	}
	if err := e.SetAttribute(Main, id, ax.AttrValue, 42); !errors.Is(err, ax.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported for int, got %v", err)
	}
	if err := e.SetAttribute(Main, id, "AXSelected", true); !errors.Is(err, ax.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported for unknown attribute, got %v", err)
	}
	if err := e.SetAttribute(Main, 999, ax.AttrValue, "1"); !errors.Is(err, ErrUnknownID) {
		t.Errorf("expected ErrUnknownID, got %v", err)
	}
}

func TestClose(t *testing.T) {
	c := newCalculator()
	e, err := New(c.graph, "Calculator")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Snapshot(Main, 5); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := e.Snapshot(Main, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := e.Resolve(Main, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	released := c.graph.Released()
	for _, want := range []ax.Ref{c.app, c.window, c.seven} {
		if !slices.Contains(released, want) {
			t.Errorf("expected %p to be released", want)
		}
	}
}

func TestSnapshot_ReleasesUnheldReferences(t *testing.T) {
	c := newCalculator()
	e := c.explorer(t)

	// at depth 0 the nested main window is seen but never issued an id
	if _, err := e.Snapshot(App, 0); err != nil {
		t.Fatal(err)
	}
	released := c.graph.Released()
	if !slices.Contains(released, ax.Ref(c.window)) {
		t.Error("expected the truncated window reference to be released")
	}
	if slices.Contains(released, ax.Ref(c.app)) {
		t.Error("expected the application reference to be kept")
	}
}

func TestSnapshot_ObserverAndNegativeDepth(t *testing.T) {
	c := newCalculator()
	var got Stats
	var calls int
	e, err := New(c.graph, "Calculator", WithObserver(func(_ Context, s Stats, _ time.Duration) {
		calls++
		got = s
	}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Snapshot(Main, -3); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 observer call, got %d", calls)
	}
	if got.Nodes != 1 || got.Truncated != 2 {
		t.Errorf("unexpected stats %+v", got)
	}
}

func TestParseContext(t *testing.T) {
	tests := []struct {
		in      string
		want    Context
		wantErr bool
	}{
		{in: "App", want: App},
		{in: "application", want: App},
		{in: "Main", want: Main},
		{in: "MainWindow", want: Main},
		{in: "main_window", want: Main},
		{in: "FOCUSED", want: Focused},
		{in: "FocusedWindow", want: Focused},
		{in: "MenuBar", want: Menu},
		{in: "Query", want: Query},
		{in: "QueryResult", want: Query},
		{in: "Dock", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseContext(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownContext) {
					t.Errorf("expected ErrUnknownContext, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseContext(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}
