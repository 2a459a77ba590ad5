// Copyright 2025 Joseph Cumines
//
// MCP server unit tests

package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/joeycumines/axplorer/internal/ax"
	"github.com/joeycumines/axplorer/internal/axtest"
	"github.com/joeycumines/axplorer/internal/config"
	"github.com/joeycumines/axplorer/internal/document"
	"github.com/joeycumines/axplorer/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*MCPServer
	graph   *axtest.Graph
	seven   *axtest.Element
	display *axtest.Element
	metrics *transport.Metrics
	audit   *bytes.Buffer
	nextID  int
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{graph: axtest.NewGraph(), metrics: transport.NewMetrics(), audit: new(bytes.Buffer)}
	ts.display = axtest.NewElement("AXStaticText", ax.AttrValue, "0")
	ts.seven = axtest.NewElement("AXButton", ax.AttrDescription, "7").WithActions(ax.ActionPress)
	window := axtest.NewElement("AXWindow", ax.AttrTitle, "Calculator").Append(ts.display, ts.seven)
	app := axtest.NewElement("AXApplication", ax.AttrTitle, "Calculator").
		Set(ax.AttrMainWindow, window).
		Append(window)
	ts.graph.AddApplication("Calculator", app)
	ts.graph.SetHitTest(func(x, y float64) *axtest.Element {
		if x == 5 && y == 5 {
			return ts.seven
		}
		return nil
	})

	cfg := config.Default()
	s, err := NewMCPServer(cfg,
		WithAdapterFactory(func() (ax.Adapter, error) { return ts.graph, nil }),
		WithMetrics(ts.metrics),
		WithAuditLogger(NewAuditLoggerWriter(ts.audit)),
	)
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)
	ts.MCPServer = s
	return ts
}

func (ts *testServer) request(t *testing.T, method string, params any) *transport.Message {
	t.Helper()
	ts.nextID++
	msg := &transport.Message{
		JSONRPC: transport.Version,
		ID:      mustJSON(t, ts.nextID),
		Method:  method,
	}
	if params != nil {
		msg.Params = mustJSON(t, params)
	}
	resp, err := ts.HandleMessage(msg)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, string(msg.ID), string(resp.ID))
	return resp
}

// call invokes a tool and returns its result, failing on JSON-RPC errors.
func (ts *testServer) call(t *testing.T, tool string, args map[string]any) *ToolResult {
	t.Helper()
	resp := ts.request(t, "tools/call", map[string]any{"name": tool, "arguments": args})
	require.Nil(t, resp.Error, "unexpected JSON-RPC error: %+v", resp.Error)
	var result ToolResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Content, 1)
	return &result
}

// ok invokes a tool that must succeed and returns its text.
func (ts *testServer) ok(t *testing.T, tool string, args map[string]any) string {
	t.Helper()
	result := ts.call(t, tool, args)
	require.False(t, result.IsError, "%s failed: %s", tool, result.Content[0].Text)
	return result.Content[0].Text
}

func (ts *testServer) open(t *testing.T) string {
	t.Helper()
	text := ts.ok(t, "open_explorer", map[string]any{"application": "Calculator"})
	id, _, _ := strings.Cut(strings.TrimPrefix(text, "Opened explorer "), " ")
	return id
}

// findID returns the id of the first node whose attribute matches value.
func findID(t *testing.T, text, attr, value string) int {
	t.Helper()
	doc, err := document.Parse(text)
	require.NoError(t, err)

	var find func(v any) (int, bool)
	find = func(v any) (int, bool) {
		switch n := v.(type) {
		case *document.Map:
			if attrs, ok := n.Map(document.KeyAttributes); ok {
				if s, ok := attrs.Text(attr); ok && s == value {
					if id, ok := n.Get(document.KeyID); ok {
						return int(id.(int64)), true
					}
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
	require.True(t, ok, "no node with %s=%s in:\n%s", attr, value, text)
	return id
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestHandleMessage_Initialize(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.request(t, "initialize", map[string]any{"protocolVersion": ProtocolVersion})

	var result struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
		Capabilities map[string]any `json:"capabilities"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, ProtocolVersion, result.ProtocolVersion)
	assert.Equal(t, "axplorer", result.ServerInfo.Name)
	assert.Equal(t, Version, result.ServerInfo.Version)
	assert.Contains(t, result.Capabilities, "tools")
}

func TestHandleMessage_Notification(t *testing.T) {
	ts := newTestServer(t)
	resp, err := ts.HandleMessage(&transport.Message{JSONRPC: transport.Version, Method: "notifications/initialized"})
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestHandleMessage_MethodNotFound(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.request(t, "resources/list", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, transport.ErrCodeMethodNotFound, resp.Error.Code)
}

func TestHandleMessage_ToolsList(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.request(t, "tools/list", nil)

	var result struct {
		Tools []struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))

	var names []string
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description, tool.Name)
		assert.Equal(t, "object", tool.InputSchema["type"], tool.Name)
	}
	assert.Equal(t, []string{
		"close_explorer",
		"compact_cells",
		"filter_keys",
		"filter_nodes",
		"flatten_cells",
		"list_explorers",
		"open_explorer",
		"perform_action",
		"set_attribute",
		"snapshot",
		"snapshot_at",
		"snapshot_element",
	}, names)
	assert.True(t, slices.IsSorted(names))
}

func TestToolCall_ProtocolErrors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		params any
		code   int
	}{
		{"unknown tool", map[string]any{"name": "click"}, transport.ErrCodeMethodNotFound},
		{"params not an object", []int{1}, transport.ErrCodeInvalidRequest},
		{"arguments not an object", map[string]any{"name": "snapshot", "arguments": "x"}, transport.ErrCodeInvalidParams},
		{"missing required", map[string]any{"name": "snapshot", "arguments": map[string]any{"explorer": "ex1"}}, transport.ErrCodeInvalidParams},
		{"wrong type", map[string]any{"name": "snapshot", "arguments": map[string]any{"explorer": "ex1", "context": "App", "max_depth": 1.5}}, transport.ErrCodeInvalidParams},
		{"bad enum", map[string]any{"name": "set_attribute", "arguments": map[string]any{
			"explorer": "ex1", "context": "App", "id": 1, "attribute": "AXValue", "value": "1", "type": "int",
		}}, transport.ErrCodeInvalidParams},
		{"bad array item", map[string]any{"name": "filter_keys", "arguments": map[string]any{"yaml": "{}", "keys": []any{"a", 1}}}, transport.ErrCodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.request(t, "tools/call", tt.params)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestTools_ExplorerLifecycle(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, "No open explorers", ts.ok(t, "list_explorers", nil))

	id := ts.open(t)
	assert.Equal(t, "ex1", id)
	second := ts.open(t)
	assert.Equal(t, "ex2", second)

	list := ts.ok(t, "list_explorers", nil)
	assert.Contains(t, list, "2 open explorer(s)")
	assert.Less(t, strings.Index(list, "- ex1: Calculator"), strings.Index(list, "- ex2: Calculator"))

	assert.Equal(t, "Closed explorer ex1 (Calculator)", ts.ok(t, "close_explorer", map[string]any{"explorer": id}))

	result := ts.call(t, "close_explorer", map[string]any{"explorer": id})
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "unknown explorer")
	assert.Contains(t, result.Content[0].Text, "Suggestion: Open a new explorer")

	result = ts.call(t, "snapshot", map[string]any{"explorer": id, "context": "App"})
	assert.True(t, result.IsError)
}

func TestTools_OpenUnknownApplication(t *testing.T) {
	ts := newTestServer(t)
	result := ts.call(t, "open_explorer", map[string]any{"application": "Safari"})
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "Error in open_explorer")
	assert.Contains(t, result.Content[0].Text, "Suggestion: Verify the application is running")

	result = ts.call(t, "open_explorer", map[string]any{"application": "  "})
	assert.True(t, result.IsError)
}

func TestTools_OpenAdapterFailure(t *testing.T) {
	cfg := config.Default()
	s, err := NewMCPServer(cfg, WithAdapterFactory(func() (ax.Adapter, error) {
		return nil, errors.New("adapter offline")
	}))
	require.NoError(t, err)
	defer s.Shutdown()

	result, err := s.handleOpenExplorer(&ToolCall{Name: "open_explorer", Arguments: json.RawMessage(`{"application":"Calculator"}`)})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "adapter offline")
}

func TestTools_SnapshotAndAct(t *testing.T) {
	ts := newTestServer(t)
	id := ts.open(t)

	out := ts.ok(t, "snapshot", map[string]any{"explorer": id, "context": "main_window"})
	assert.Contains(t, out, "AXTitle: Calculator")

	depthZero := ts.ok(t, "snapshot", map[string]any{"explorer": id, "context": "Main", "max_depth": 0})
	assert.NotContains(t, depthZero, "children")

	// with max_depth 0 only the window has an ID, so re-take the full tree
	ts.ok(t, "snapshot", map[string]any{"explorer": id, "context": "Main"})
	sevenID := findID(t, out, ax.AttrDescription, "7")

	assert.Equal(t, fmt.Sprintf("Performed AXPress on element %d (Main)", sevenID),
		ts.ok(t, "perform_action", map[string]any{"explorer": id, "context": "Main", "id": sevenID, "action": "AXPress"}))
	assert.Equal(t, []string{ax.ActionPress}, ts.graph.Performed(ts.seven))

	displayID := findID(t, out, ax.AttrValue, "0")
	ts.ok(t, "set_attribute", map[string]any{
		"explorer": id, "context": "Main", "id": displayID, "attribute": "AXValue", "value": "42", "type": "double",
	})
	v, _ := ts.display.Get(ax.AttrValue)
	assert.Equal(t, 42.0, v)

	result := ts.call(t, "perform_action", map[string]any{"explorer": id, "context": "Main", "id": 999, "action": "AXPress"})
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "Take a new snapshot")

	result = ts.call(t, "perform_action", map[string]any{"explorer": id, "context": "Main", "id": displayID, "action": "AXPress"})
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "rejected the action")

	result = ts.call(t, "snapshot", map[string]any{"explorer": id, "context": "Sidebar"})
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "Use one of App, Main")

	result = ts.call(t, "snapshot", map[string]any{"explorer": id, "context": "Main", "max_depth": -1})
	assert.True(t, result.IsError)
}

func TestTools_QueryContext(t *testing.T) {
	ts := newTestServer(t)
	id := ts.open(t)

	out := ts.ok(t, "snapshot_at", map[string]any{"explorer": id, "x": 5, "y": 5})
	assert.Contains(t, out, "AXRole: AXButton")
	ts.ok(t, "perform_action", map[string]any{"explorer": id, "context": "query", "id": 1, "action": "AXPress"})

	result := ts.call(t, "snapshot_at", map[string]any{"explorer": id, "x": 0, "y": 0})
	assert.True(t, result.IsError)

	app := ts.ok(t, "snapshot", map[string]any{"explorer": id, "context": "App"})
	require.Equal(t, 1, findID(t, app, ax.AttrRole, "AXApplication"))

	drill := ts.ok(t, "snapshot_element", map[string]any{"explorer": id, "context": "App", "id": 1, "max_depth": 1})
	assert.Contains(t, drill, "AXRole: AXApplication")
}

func TestTools_DocumentPipeline(t *testing.T) {
	ts := newTestServer(t)
	id := ts.open(t)
	out := ts.ok(t, "snapshot", map[string]any{"explorer": id, "context": "Main"})

	filtered := ts.ok(t, "filter_keys", map[string]any{"yaml": out, "keys": []string{"AXRole"}})
	assert.NotContains(t, filtered, "AXRole")
	assert.Contains(t, filtered, "AXTitle")

	pruned := ts.ok(t, "filter_nodes", map[string]any{"yaml": out, "key": "AXRole", "value": "AXButton"})
	assert.NotContains(t, pruned, "AXButton")
	assert.Contains(t, pruned, "AXStaticText")

	prunedAny := ts.ok(t, "filter_nodes", map[string]any{"yaml": out, "key": "AXTitle"})
	assert.Equal(t, "{}", strings.TrimSpace(prunedAny))

	result := ts.call(t, "filter_nodes", map[string]any{"yaml": out, "key": ""})
	assert.True(t, result.IsError)

	sheet := `
id: 1
attributes:
  AXRoleDescription: table
children:
  child_2:
    id: 2
    attributes:
      AXDescription: B3
      AXRoleDescription: cell
    children:
      child_3:
        id: 3
        attributes:
          AXValue: "12"
          AXFrame: {x: 1, y: 2, w: 3, h: 4}
`
	flat := ts.ok(t, "flatten_cells", map[string]any{"yaml": sheet})
	assert.Contains(t, flat, "cell: B3")
	assert.Contains(t, flat, `value: "12"`)

	compact := ts.ok(t, "compact_cells", map[string]any{"yaml": sheet})
	assert.NotContains(t, compact, "AXFrame")

	result = ts.call(t, "flatten_cells", map[string]any{"yaml": "a: [\n"})
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "Pass a YAML document")
}

func TestTools_MetricsAndAudit(t *testing.T) {
	ts := newTestServer(t)
	id := ts.open(t)
	ts.ok(t, "snapshot", map[string]any{"explorer": id, "context": "Main"})
	ts.call(t, "snapshot", map[string]any{"explorer": "nope", "context": "Main"})
	ts.ok(t, "set_attribute", map[string]any{
		"explorer": id, "context": "Main", "id": 1, "attribute": "AXTitle", "value": "hunter2",
	})

	families, err := ts.metrics.Registry().Gather()
	require.NoError(t, err)
	counts := map[string]float64{}
	for _, f := range families {
		switch f.GetName() {
		case "axplorer_tool_calls_total":
			for _, m := range f.GetMetric() {
				key := ""
				for _, l := range m.GetLabel() {
					key += l.GetValue() + "/"
				}
				counts[key] = m.GetCounter().GetValue()
			}
		case "axplorer_explorers_active":
			assert.Equal(t, 1.0, f.GetMetric()[0].GetGauge().GetValue())
		case "axplorer_snapshot_nodes":
			assert.NotEmpty(t, f.GetMetric())
		}
	}
	// labels are sorted by name: status, tool
	assert.Equal(t, 1.0, counts["ok/snapshot/"])
	assert.Equal(t, 1.0, counts["error/snapshot/"])

	lines := strings.Split(strings.TrimSpace(ts.audit.String()), "\n")
	require.Len(t, lines, 4)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[3]), &rec))
	assert.Equal(t, "set_attribute", rec["tool"])
	assert.Equal(t, id, rec["explorer"])
	assert.NotContains(t, rec["arguments"], "hunter2")
	assert.Contains(t, rec["arguments"], "[REDACTED]")
}

func TestMCPServer_ShutdownClosesExplorers(t *testing.T) {
	ts := newTestServer(t)
	id := ts.open(t)
	ts.ok(t, "snapshot", map[string]any{"explorer": id, "context": "Main"})

	ts.Shutdown()
	assert.Equal(t, 0, ts.explorers.len())
	assert.NotEmpty(t, ts.graph.Released())
}

func TestMCPServer_ServeStdio(t *testing.T) {
	ts := newTestServer(t)

	in := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"open_explorer","arguments":{"application":"Calculator"}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"snapshot","arguments":{"explorer":"ex1","context":"App","max_depth":1}}}`,
	}, "\n") + "\n"
	var out bytes.Buffer
	require.NoError(t, ts.Serve(transport.NewStdioTransport(strings.NewReader(in), &out, nil)))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	var last transport.Message
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &last))
	var result ToolResult
	require.NoError(t, json.Unmarshal(last.Result, &result))
	assert.False(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "AXApplication")
}
