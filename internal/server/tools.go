// Copyright 2025 Joseph Cumines
//
// Tool registry and handlers

package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/joeycumines/axplorer/internal/ax"
	"github.com/joeycumines/axplorer/internal/cells"
	"github.com/joeycumines/axplorer/internal/document"
	"github.com/joeycumines/axplorer/internal/explorer"
)

const contextDescription = "Snapshot context: App, Main, Focused, Menu or Query (case-insensitive; Application, MainWindow, FocusedWindow, MenuBar and QueryResult are accepted)"

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func integerProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": description}
}

func numberProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "number", "description": description}
}

func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// registerTools registers all available tools
func (s *MCPServer) registerTools() {
	explorerProp := stringProp("Explorer ID returned by open_explorer")
	contextProp := stringProp(contextDescription)
	idProp := integerProp("Element ID from the latest snapshot of the context")
	depthProp := integerProp(fmt.Sprintf("Maximum traversal depth; 0 emits only the root's attributes (default %d)", s.cfg.DefaultDepth))
	yamlProp := stringProp("YAML document produced by a snapshot tool")

	tools := []*Tool{
		{
			Name:        "open_explorer",
			Description: "Open an explorer on a running application by its localized name",
			InputSchema: objectSchema(map[string]interface{}{
				"application": stringProp("Application name, e.g. Calculator"),
			}, "application"),
			Handler: s.handleOpenExplorer,
		},
		{
			Name:        "close_explorer",
			Description: "Close an explorer and release its element handles",
			InputSchema: objectSchema(map[string]interface{}{
				"explorer": explorerProp,
			}, "explorer"),
			Handler: s.handleCloseExplorer,
		},
		{
			Name:        "list_explorers",
			Description: "List open explorers",
			InputSchema: objectSchema(map[string]interface{}{}),
			Handler:     s.handleListExplorers,
		},
		{
			Name:        "snapshot",
			Description: "Snapshot the accessibility tree of a context as YAML. Replaces the context's element IDs",
			InputSchema: objectSchema(map[string]interface{}{
				"explorer":  explorerProp,
				"context":   contextProp,
				"max_depth": depthProp,
			}, "explorer", "context"),
			Handler: s.handleSnapshot,
		},
		{
			Name:        "snapshot_at",
			Description: "Snapshot the element at a screen coordinate into the Query context",
			InputSchema: objectSchema(map[string]interface{}{
				"explorer":  explorerProp,
				"x":         numberProp("Screen X coordinate"),
				"y":         numberProp("Screen Y coordinate"),
				"max_depth": depthProp,
			}, "explorer", "x", "y"),
			Handler: s.handleSnapshotAt,
		},
		{
			Name:        "snapshot_element",
			Description: "Snapshot a previously listed element into the Query context, to drill down",
			InputSchema: objectSchema(map[string]interface{}{
				"explorer":  explorerProp,
				"context":   contextProp,
				"id":        idProp,
				"max_depth": depthProp,
			}, "explorer", "context", "id"),
			Handler: s.handleSnapshotElement,
		},
		{
			Name:        "perform_action",
			Description: "Perform an accessibility action (e.g. AXPress) on a previously listed element",
			InputSchema: objectSchema(map[string]interface{}{
				"explorer": explorerProp,
				"context":  contextProp,
				"id":       idProp,
				"action":   stringProp("Action name from the element's AXActions"),
			}, "explorer", "context", "id", "action"),
			Handler: s.handlePerformAction,
		},
		{
			Name:        "set_attribute",
			Description: "Set an attribute of a previously listed element",
			InputSchema: objectSchema(map[string]interface{}{
				"explorer":  explorerProp,
				"context":   contextProp,
				"id":        idProp,
				"attribute": stringProp("Attribute name, e.g. AXValue"),
				"value":     stringProp("Value, as text"),
				"type": map[string]interface{}{
					"type":        "string",
					"description": "How to interpret value (default string)",
					"enum":        []string{ax.TypeString, ax.TypeBool, ax.TypeDouble},
				},
			}, "explorer", "context", "id", "attribute", "value"),
			Handler: s.handleSetAttribute,
		},
		{
			Name:        "filter_keys",
			Description: "Remove keys anywhere in a YAML document",
			InputSchema: objectSchema(map[string]interface{}{
				"yaml": yamlProp,
				"keys": map[string]interface{}{
					"type":        "array",
					"description": "Keys to remove",
					"items":       map[string]interface{}{"type": "string"},
				},
			}, "yaml", "keys"),
			Handler: s.handleFilterKeys,
		},
		{
			Name:        "filter_nodes",
			Description: "Remove every node whose attributes carry key (with the given value, if any), including its subtree",
			InputSchema: objectSchema(map[string]interface{}{
				"yaml":  yamlProp,
				"key":   stringProp("Attribute name to match"),
				"value": stringProp("Value to match; omit to match any value"),
			}, "yaml", "key"),
			Handler: s.handleFilterNodes,
		},
		{
			Name:        "flatten_cells",
			Description: "Collapse spreadsheet cells into compact cell/value records",
			InputSchema: objectSchema(map[string]interface{}{"yaml": yamlProp}, "yaml"),
			Handler:     s.handleFlattenCells,
		},
		{
			Name:        "compact_cells",
			Description: "Drop noisy geometry and state keys, then collapse spreadsheet cells",
			InputSchema: objectSchema(map[string]interface{}{"yaml": yamlProp}, "yaml"),
			Handler:     s.handleCompactCells,
		},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = make(map[string]*Tool, len(tools))
	for _, tool := range tools {
		s.tools[tool.Name] = tool
	}
}

// depth resolves an optional max_depth argument.
func (s *MCPServer) depth(maxDepth *int) (int, error) {
	if maxDepth == nil {
		return s.cfg.DefaultDepth, nil
	}
	if *maxDepth < 0 {
		return 0, fmt.Errorf("max_depth must not be negative, got %d", *maxDepth)
	}
	return *maxDepth, nil
}

// observe records every traversal of an explorer.
func (s *MCPServer) observe(c explorer.Context, stats explorer.Stats, elapsed time.Duration) {
	s.metrics.RecordSnapshot(string(c), stats.Nodes, elapsed)
}

func (s *MCPServer) handleOpenExplorer(call *ToolCall) (*ToolResult, error) {
	var params struct {
		Application string `json:"application"`
	}
	if res := decodeArgs(call, &params); res != nil {
		return res, nil
	}
	if strings.TrimSpace(params.Application) == "" {
		return errorResult("application must not be empty"), nil
	}

	adapter, err := s.adapters()
	if err != nil {
		return toolErrorResult(err, call.Name), nil
	}
	e, err := explorer.New(adapter, params.Application,
		explorer.WithLogger(s.logger),
		explorer.WithObserver(s.observe),
	)
	if err != nil {
		return toolErrorResult(err, call.Name), nil
	}

	entry := s.explorers.add(params.Application, e)
	s.metrics.SetExplorers(s.explorers.len())
	s.logger.Info("opened explorer", "explorer", entry.id, "application", params.Application)
	return textResultf("Opened explorer %s for %s", entry.id, params.Application), nil
}

func (s *MCPServer) handleCloseExplorer(call *ToolCall) (*ToolResult, error) {
	var params struct {
		Explorer string `json:"explorer"`
	}
	if res := decodeArgs(call, &params); res != nil {
		return res, nil
	}

	entry, err := s.explorers.remove(params.Explorer)
	s.metrics.SetExplorers(s.explorers.len())
	if err != nil {
		return toolErrorResult(err, call.Name), nil
	}
	return textResultf("Closed explorer %s (%s)", entry.id, entry.app), nil
}

func (s *MCPServer) handleListExplorers(_ *ToolCall) (*ToolResult, error) {
	entries := s.explorers.list()
	if len(entries) == 0 {
		return textResult("No open explorers"), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d open explorer(s):\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s: %s (opened %s)\n", e.id, e.app, e.opened.UTC().Format(time.RFC3339))
	}
	return textResult(strings.TrimSuffix(b.String(), "\n")), nil
}

type elementParams struct {
	MaxDepth *int   `json:"max_depth"`
	Explorer string `json:"explorer"`
	Context  string `json:"context"`
	ID       int    `json:"id"`
}

func (s *MCPServer) handleSnapshot(call *ToolCall) (*ToolResult, error) {
	var params elementParams
	if res := decodeArgs(call, &params); res != nil {
		return res, nil
	}
	c, err := explorer.ParseContext(params.Context)
	if err != nil {
		return toolErrorResult(err, call.Name), nil
	}
	maxDepth, err := s.depth(params.MaxDepth)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	var out string
	err = s.explorers.with(params.Explorer, func(e *explorer.Explorer) (err error) {
		out, err = e.Snapshot(c, maxDepth)
		return err
	})
	if err != nil {
		return toolErrorResult(err, call.Name), nil
	}
	return textResult(out), nil
}

func (s *MCPServer) handleSnapshotAt(call *ToolCall) (*ToolResult, error) {
	var params struct {
		MaxDepth *int    `json:"max_depth"`
		Explorer string  `json:"explorer"`
		X        float64 `json:"x"`
		Y        float64 `json:"y"`
	}
	if res := decodeArgs(call, &params); res != nil {
		return res, nil
	}
	maxDepth, err := s.depth(params.MaxDepth)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	var out string
	err = s.explorers.with(params.Explorer, func(e *explorer.Explorer) (err error) {
		out, err = e.SnapshotAt(params.X, params.Y, maxDepth)
		return err
	})
	if err != nil {
		return toolErrorResult(err, call.Name), nil
	}
	return textResult(out), nil
}

func (s *MCPServer) handleSnapshotElement(call *ToolCall) (*ToolResult, error) {
	var params elementParams
	if res := decodeArgs(call, &params); res != nil {
		return res, nil
	}
	c, err := explorer.ParseContext(params.Context)
	if err != nil {
		return toolErrorResult(err, call.Name), nil
	}
	maxDepth, err := s.depth(params.MaxDepth)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	var out string
	err = s.explorers.with(params.Explorer, func(e *explorer.Explorer) (err error) {
		out, err = e.ResolveAndSnapshot(c, params.ID, maxDepth)
		return err
	})
	if err != nil {
		return toolErrorResult(err, call.Name), nil
	}
	return textResult(out), nil
}

func (s *MCPServer) handlePerformAction(call *ToolCall) (*ToolResult, error) {
	var params struct {
		elementParams
		Action string `json:"action"`
	}
	if res := decodeArgs(call, &params); res != nil {
		return res, nil
	}
	c, err := explorer.ParseContext(params.Context)
	if err != nil {
		return toolErrorResult(err, call.Name), nil
	}

	err = s.explorers.with(params.Explorer, func(e *explorer.Explorer) error {
		return e.PerformAction(c, params.ID, params.Action)
	})
	if err != nil {
		return toolErrorResult(err, call.Name), nil
	}
	return textResultf("Performed %s on element %d (%s)", params.Action, params.ID, c), nil
}

func (s *MCPServer) handleSetAttribute(call *ToolCall) (*ToolResult, error) {
	var params struct {
		elementParams
		Attribute string `json:"attribute"`
		Value     string `json:"value"`
		Type      string `json:"type"`
	}
	if res := decodeArgs(call, &params); res != nil {
		return res, nil
	}
	c, err := explorer.ParseContext(params.Context)
	if err != nil {
		return toolErrorResult(err, call.Name), nil
	}
	value, err := ax.ParseTypedValue(params.Value, params.Type)
	if err != nil {
		return toolErrorResult(err, call.Name), nil
	}

	err = s.explorers.with(params.Explorer, func(e *explorer.Explorer) error {
		return e.SetAttribute(c, params.ID, params.Attribute, value)
	})
	if err != nil {
		return toolErrorResult(err, call.Name), nil
	}
	return textResultf("Set %s of element %d (%s) to %q", params.Attribute, params.ID, c, truncateText(params.Value)), nil
}

func (s *MCPServer) handleFilterKeys(call *ToolCall) (*ToolResult, error) {
	var params struct {
		YAML string   `json:"yaml"`
		Keys []string `json:"keys"`
	}
	if res := decodeArgs(call, &params); res != nil {
		return res, nil
	}
	out, err := document.FilterKeys(params.YAML, params.Keys)
	if err != nil {
		return toolErrorResult(err, call.Name), nil
	}
	return textResult(out), nil
}

func (s *MCPServer) handleFilterNodes(call *ToolCall) (*ToolResult, error) {
	var params struct {
		Value *string `json:"value"`
		YAML  string  `json:"yaml"`
		Key   string  `json:"key"`
	}
	if res := decodeArgs(call, &params); res != nil {
		return res, nil
	}
	out, err := document.FilterNodes(params.YAML, params.Key, params.Value)
	if err != nil {
		return toolErrorResult(err, call.Name), nil
	}
	return textResult(out), nil
}

func (s *MCPServer) handleFlattenCells(call *ToolCall) (*ToolResult, error) {
	return s.transformDocument(call, cells.FlattenYAML)
}

func (s *MCPServer) handleCompactCells(call *ToolCall) (*ToolResult, error) {
	return s.transformDocument(call, cells.CompactYAML)
}

func (s *MCPServer) transformDocument(call *ToolCall, fn func(string) (string, error)) (*ToolResult, error) {
	var params struct {
		YAML string `json:"yaml"`
	}
	if res := decodeArgs(call, &params); res != nil {
		return res, nil
	}
	out, err := fn(params.YAML)
	if err != nil {
		return toolErrorResult(err, call.Name), nil
	}
	return textResult(out), nil
}

