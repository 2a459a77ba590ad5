// Copyright 2025 Joseph Cumines
//
// MCP server implementation

// Package server exposes explorers as MCP tools over JSON-RPC 2.0.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/joeycumines/axplorer/internal/ax"
	"github.com/joeycumines/axplorer/internal/config"
	"github.com/joeycumines/axplorer/internal/logging"
	"github.com/joeycumines/axplorer/internal/remote"
	"github.com/joeycumines/axplorer/internal/transport"
	"google.golang.org/grpc"
)

// Version is reported in the initialize response. It is overridden at link
// time by release builds.
var Version = "0.1.0"

// ProtocolVersion is the MCP protocol revision spoken.
const ProtocolVersion = "2024-11-05"

// AdapterFactory returns the adapter for a newly opened explorer.
type AdapterFactory func() (ax.Adapter, error)

// MCPServer represents an MCP server
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type MCPServer struct {
	ctx       context.Context
	cfg       *config.Config
	conn      *grpc.ClientConn
	adapters  AdapterFactory
	explorers *registry
	tools     map[string]*Tool
	metrics   *transport.Metrics
	audit     *AuditLogger
	logger    *slog.Logger
	cancel    context.CancelFunc
	mu        sync.RWMutex
}

// Tool represents an MCP tool
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type Tool struct {
	Handler     func(*ToolCall) (*ToolResult, error)
	InputSchema map[string]interface{}
	Name        string
	Description string
}

// ToolCall represents a tool call request
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult represents a tool call result
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content represents a content item in a tool result
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Option configures an MCPServer.
type Option func(*MCPServer)

// WithAdapterFactory replaces the gRPC adapter connection, e.g. with an
// in-memory graph.
func WithAdapterFactory(fn AdapterFactory) Option {
	return func(s *MCPServer) { s.adapters = fn }
}

// WithMetrics records tool calls and traversals.
func WithMetrics(m *transport.Metrics) Option {
	return func(s *MCPServer) { s.metrics = m }
}

// WithAuditLogger records every tool invocation.
func WithAuditLogger(a *AuditLogger) Option {
	return func(s *MCPServer) { s.audit = a }
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *MCPServer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewMCPServer creates a new MCP server. Unless an adapter factory is
// supplied, it connects to the adapter server named by cfg; every explorer
// then gets its own remote session.
func NewMCPServer(cfg *config.Config, opts ...Option) (*MCPServer, error) {
	ctx, cancel := context.WithCancel(context.Background())

	s := &MCPServer{
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		explorers: newRegistry(),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.adapters == nil {
		if err := s.initGRPC(); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to initialize gRPC: %w", err)
		}
	}

	s.registerTools()

	return s, nil
}

// initGRPC initializes the gRPC connection
func (s *MCPServer) initGRPC() error {
	conn, err := remote.Dial(remote.DialConfig{
		Addr:     s.cfg.AdapterAddr,
		CertFile: s.cfg.AdapterCertFile,
		TLS:      s.cfg.AdapterTLS,
	})
	if err != nil {
		return err
	}
	s.conn = conn
	s.adapters = func() (ax.Adapter, error) {
		return remote.NewClient(conn, remote.WithTimeout(s.cfg.RequestTimeout)), nil
	}
	return nil
}

// Shutdown closes every explorer, then the adapter connection.
func (s *MCPServer) Shutdown() {
	s.cancel()
	s.logger.Info("shutting down MCP server", "explorers", s.explorers.len())

	if err := s.explorers.closeAll(); err != nil {
		s.logger.Warn("failed to close explorers", "error", err)
	}
	s.metrics.SetExplorers(0)
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("failed to close adapter connection", "error", err)
		}
	}
	if err := s.audit.Close(); err != nil {
		s.logger.Warn("failed to close audit log", "error", err)
	}
}

// Serve dispatches requests from tr until it closes or Shutdown is called.
func (s *MCPServer) Serve(tr transport.Transport) error {
	s.logger.Info("MCP server starting")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.ctx.Done():
			_ = tr.Close()
		case <-done:
		}
	}()

	return tr.Serve(s.HandleMessage)
}

// Tools returns the registered tools sorted by name.
func (s *MCPServer) Tools() []*Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tools := make([]*Tool, 0, len(s.tools))
	for _, tool := range s.tools {
		tools = append(tools, tool)
	}
	slices.SortFunc(tools, func(a, b *Tool) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return tools
}

func resultMessage(id json.RawMessage, v any) (*transport.Message, error) {
	result, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return &transport.Message{JSONRPC: transport.Version, ID: id, Result: result}, nil
}

// HandleMessage handles a single MCP message. It implements
// transport.Handler.
func (s *MCPServer) HandleMessage(msg *transport.Message) (*transport.Message, error) {
	if msg.IsNotification() {
		s.logger.Debug("notification", "method", msg.Method)
		return nil, nil
	}

	switch msg.Method {
	case "initialize":
		return resultMessage(msg.ID, map[string]any{
			"protocolVersion": ProtocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "axplorer", "version": Version},
		})

	case "ping":
		return resultMessage(msg.ID, map[string]any{})

	case "tools/list":
		tools := make([]map[string]any, 0, len(s.tools))
		for _, tool := range s.Tools() {
			tools = append(tools, map[string]any{
				"name":        tool.Name,
				"description": tool.Description,
				"inputSchema": tool.InputSchema,
			})
		}
		return resultMessage(msg.ID, map[string]any{"tools": tools})

	case "tools/call":
		return s.handleToolCall(msg)
	}

	return transport.NewErrorResponse(msg.ID, transport.ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", msg.Method)), nil
}

func (s *MCPServer) handleToolCall(msg *transport.Message) (*transport.Message, error) {
	var params ToolCall
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return transport.NewErrorResponse(msg.ID, transport.ErrCodeInvalidRequest, fmt.Sprintf("Invalid request: %v", err)), nil
	}

	s.mu.RLock()
	tool, exists := s.tools[params.Name]
	s.mu.RUnlock()
	if !exists {
		return transport.NewErrorResponse(msg.ID, transport.ErrCodeMethodNotFound, fmt.Sprintf("Tool not found: %s", params.Name)), nil
	}

	var args map[string]any
	if len(params.Arguments) > 0 && string(params.Arguments) != "null" {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return transport.NewErrorResponse(msg.ID, transport.ErrCodeInvalidParams, fmt.Sprintf("arguments must be an object: %v", err)), nil
		}
	}
	if errMsg := validateToolInput(tool, args); errMsg != nil {
		errMsg.ID = msg.ID
		return errMsg, nil
	}

	start := time.Now()
	result, err := tool.Handler(&params)
	duration := time.Since(start)

	status := "ok"
	if err != nil || result == nil || result.IsError {
		status = "error"
	}
	s.metrics.RecordToolCall(params.Name, status, duration)
	s.audit.LogToolCall(params.Name, params.Arguments, status, duration)
	s.logger.Debug("tool call", "tool", params.Name, "status", status, "duration", duration)

	if err != nil {
		return nil, err
	}
	if result == nil {
		result = errorResultf("Error in %s: no result", params.Name)
	}
	return resultMessage(msg.ID, result)
}
