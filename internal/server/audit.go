// Copyright 2025 Joseph Cumines
//
// Audit logging for MCP tool invocations

package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// AuditLogger writes one JSON record per tool invocation: tool name, redacted
// arguments, explorer, outcome and duration.
type AuditLogger struct {
	logger *slog.Logger
	closer io.Closer
	mu     sync.RWMutex
}

// redactedKeys name arguments whose values never reach the audit log. Keys
// containing any of them are redacted too.
var redactedKeys = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"apikey",
	"credential",
	"private_key",
	"authorization",
	"passphrase",
}

// writtenValueTools name tools whose "value" argument is typed into the
// user interface and may hold a password.
var writtenValueTools = map[string]bool{
	"set_attribute": true,
}

// documentKeys name arguments carrying whole snapshot documents, which are
// logged by size only.
var documentKeys = map[string]bool{
	"yaml": true,
}

// NewAuditLogger creates an audit logger appending to filePath. An empty
// path returns a disabled logger.
func NewAuditLogger(filePath string) (*AuditLogger, error) {
	if filePath == "" {
		return &AuditLogger{}, nil
	}

	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	a := NewAuditLoggerWriter(file)
	a.closer = file
	return a, nil
}

// NewAuditLoggerWriter creates an audit logger writing to w.
func NewAuditLoggerWriter(w io.Writer) *AuditLogger {
	return &AuditLogger{
		logger: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
}

// Close closes the audit log file if it is open. Safe to call multiple times.
func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	closer := a.closer
	a.closer = nil
	a.logger = nil
	if closer != nil {
		return closer.Close()
	}
	return nil
}

// IsEnabled returns true if audit records are being written.
func (a *AuditLogger) IsEnabled() bool {
	if a == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.logger != nil
}

// LogToolCall records a tool invocation. Status is "ok" or "error".
func (a *AuditLogger) LogToolCall(tool string, args json.RawMessage, status string, duration time.Duration) {
	if a == nil {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.logger == nil {
		return
	}

	parsed := parseArguments(args)
	if _, ok := parsed["value"]; ok && writtenValueTools[tool] {
		parsed["value"] = "[REDACTED]"
	}
	attrs := []any{
		slog.String("tool", tool),
		slog.String("arguments", redactArguments(parsed)),
		slog.String("status", status),
		slog.Float64("duration_seconds", duration.Seconds()),
	}
	if id, ok := parsed["explorer"].(string); ok {
		attrs = append(attrs, slog.String("explorer", id))
	}
	a.logger.Info("tool_invocation", attrs...)
}

func parseArguments(args json.RawMessage) map[string]any {
	var parsed map[string]any
	if len(args) == 0 || json.Unmarshal(args, &parsed) != nil {
		return nil
	}
	return parsed
}

// redactArguments renders arguments with sensitive values replaced and
// documents summarized.
func redactArguments(parsed map[string]any) string {
	if parsed == nil {
		return "{}"
	}
	redacted, err := json.Marshal(redactValue(parsed))
	if err != nil {
		return "[error]"
	}
	return string(redacted)
}

func isRedacted(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range redactedKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func redactValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, value := range v {
			switch {
			case isRedacted(key):
				out[key] = "[REDACTED]"
			case documentKeys[key]:
				if s, ok := value.(string); ok {
					out[key] = fmt.Sprintf("[%d bytes]", len(s))
				} else {
					out[key] = redactValue(value)
				}
			default:
				out[key] = redactValue(value)
			}
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}
