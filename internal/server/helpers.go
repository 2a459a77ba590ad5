// Copyright 2025 Joseph Cumines
//
// Helper functions for tool handlers

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/joeycumines/axplorer/internal/ax"
	"github.com/joeycumines/axplorer/internal/document"
	"github.com/joeycumines/axplorer/internal/explorer"
	"github.com/joeycumines/axplorer/internal/transport"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// maxDisplayTextLen is the maximum length for text shown in result summaries.
// Longer text is truncated with "..." suffix.
const maxDisplayTextLen = 50

// truncateText truncates text to maxDisplayTextLen characters with "..." suffix if needed.
func truncateText(s string) string {
	if len(s) > maxDisplayTextLen {
		return s[:maxDisplayTextLen] + "..."
	}
	return s
}

// errorResult creates a ToolResult with IsError=true and the given message.
func errorResult(msg string) *ToolResult {
	return &ToolResult{
		IsError: true,
		Content: []Content{{Type: "text", Text: msg}},
	}
}

// errorResultf creates a ToolResult with IsError=true and a formatted message.
func errorResultf(format string, args ...any) *ToolResult {
	return errorResult(fmt.Sprintf(format, args...))
}

// textResult creates a ToolResult with a single text content.
func textResult(text string) *ToolResult {
	return &ToolResult{
		Content: []Content{{Type: "text", Text: text}},
	}
}

// textResultf creates a ToolResult with a formatted text content.
func textResultf(format string, args ...any) *ToolResult {
	return textResult(fmt.Sprintf(format, args...))
}

// decodeArgs unmarshals tool arguments into dst. Missing arguments decode as
// an empty object.
func decodeArgs(call *ToolCall, dst any) *ToolResult {
	if len(call.Arguments) == 0 || string(call.Arguments) == "null" {
		return nil
	}
	if err := json.Unmarshal(call.Arguments, dst); err != nil {
		return errorResultf("Invalid parameters: %v", err)
	}
	return nil
}

// suggestion returns advice for the failure class of err, or "".
func suggestion(err error) string {
	switch {
	case errors.Is(err, explorer.ErrUnknownID):
		return "IDs are only valid for the latest snapshot of a context. Take a new snapshot and use its IDs"
	case errors.Is(err, explorer.ErrUnknownContext):
		return "Use one of App, Main, Focused, Menu or Query"
	case errors.Is(err, explorer.ErrNoRoot):
		return "The application may have no window of that kind. Try the App context, or snapshot_at / snapshot_element to fill Query"
	case errors.Is(err, explorer.ErrClosed), errors.Is(err, errUnknownExplorer):
		return "Open a new explorer with open_explorer"
	case errors.Is(err, ax.ErrUnsupported):
		return "The element rejected the action or value. Check AXActions, and the value type (string, bool, double)"
	case errors.Is(err, ax.ErrNotFound):
		return "Verify the application is running and the element still exists; take a new snapshot"
	case errors.Is(err, document.ErrMalformed), errors.Is(err, document.ErrEmptyKey):
		return "Pass a YAML document produced by a snapshot tool"
	}

	st, ok := grpcstatus.FromError(err)
	if !ok {
		return ""
	}
	switch st.Code() {
	case codes.PermissionDenied:
		return "Ensure accessibility permissions are granted to the adapter in System Settings > Privacy & Security > Accessibility"
	case codes.Unavailable:
		return "The adapter server may be down or unreachable. Check AXPLORER_ADAPTER_ADDR and the adapter's status"
	case codes.DeadlineExceeded:
		return "Operation timed out. Try a smaller max_depth or increase AXPLORER_REQUEST_TIMEOUT"
	case codes.Internal:
		return "An internal adapter error occurred. Check the adapter logs for details"
	case codes.ResourceExhausted:
		return "Rate limit exceeded or quota exhausted. Try again later"
	}
	return ""
}

// formatError formats an error for an MCP tool response, with an actionable
// suggestion when the failure class is recognized.
func formatError(err error, toolName string) string {
	if err == nil {
		return ""
	}
	result := fmt.Sprintf("Error in %s: %s", toolName, err.Error())
	if s := suggestion(err); s != "" {
		result += "\nSuggestion: " + s
	}
	return result
}

// toolErrorResult creates a ToolResult with IsError=true from err.
func toolErrorResult(err error, toolName string) *ToolResult {
	return errorResult(formatError(err, toolName))
}

// validateToolInput validates JSON arguments against a tool's InputSchema:
// required fields, field types, and enum membership. Properties not named in
// the schema are allowed.
//
// Returns a JSON-RPC error response with ErrCodeInvalidParams (-32602) if validation fails,
// nil if validation passes.
func validateToolInput(tool *Tool, args map[string]any) *transport.Message {
	schema := tool.InputSchema
	if schema == nil {
		return nil
	}

	for _, field := range getRequiredFields(schema) {
		if _, exists := args[field]; !exists {
			return invalidParamsError(fmt.Sprintf("missing required field: %s", field))
		}
	}

	properties := getSchemaProperties(schema)
	for fieldName, value := range args {
		propSchema, exists := properties[fieldName]
		if !exists {
			continue
		}
		if err := validateFieldValue(fieldName, value, propSchema); err != nil {
			return invalidParamsError(err.Error())
		}
	}

	return nil
}

// invalidParamsError creates a JSON-RPC error response with ErrCodeInvalidParams.
func invalidParamsError(message string) *transport.Message {
	return &transport.Message{
		JSONRPC: transport.Version,
		Error: &transport.ErrorObj{
			Code:    transport.ErrCodeInvalidParams,
			Message: message,
		},
	}
}

// getRequiredFields extracts the "required" array from a JSON schema.
func getRequiredFields(schema map[string]any) []string {
	switch required := schema["required"].(type) {
	case []string:
		return required
	case []any:
		result := make([]string, 0, len(required))
		for _, v := range required {
			if s, ok := v.(string); ok {
				result = append(result, s)
			}
		}
		return result
	}
	return nil
}

// getSchemaProperties extracts the "properties" map from a JSON schema.
func getSchemaProperties(schema map[string]any) map[string]map[string]any {
	propsMap, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil
	}
	result := make(map[string]map[string]any, len(propsMap))
	for k, v := range propsMap {
		if propSchema, ok := v.(map[string]any); ok {
			result[k] = propSchema
		}
	}
	return result
}

// validateFieldValue validates a single field value against its property schema.
func validateFieldValue(fieldName string, value any, propSchema map[string]any) error {
	// null is accepted for any optional field
	if value == nil {
		return nil
	}

	if schemaType, ok := propSchema["type"].(string); ok {
		if err := validateType(fieldName, value, schemaType); err != nil {
			return err
		}
	}

	if items, ok := propSchema["items"].(map[string]any); ok {
		if arr, ok := value.([]any); ok {
			for i, item := range arr {
				if err := validateFieldValue(fmt.Sprintf("%s[%d]", fieldName, i), item, items); err != nil {
					return err
				}
			}
		}
	}

	return validateEnumValue(fieldName, value, propSchema)
}

// validateType validates that a value matches the expected JSON Schema type.
func validateType(fieldName string, value any, expectedType string) error {
	switch expectedType {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("field %q must be a string, got %T", fieldName, value)
		}
	case "number":
		if !isNumber(value) {
			return fmt.Errorf("field %q must be a number, got %T", fieldName, value)
		}
	case "integer":
		if !isInteger(value) {
			return fmt.Errorf("field %q must be an integer, got %T", fieldName, value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("field %q must be a boolean, got %T", fieldName, value)
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("field %q must be an array, got %T", fieldName, value)
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("field %q must be an object, got %T", fieldName, value)
		}
	}
	return nil
}

// isNumber returns true if the value is a valid JSON number.
func isNumber(value any) bool {
	switch value.(type) {
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	default:
		return false
	}
}

// isInteger returns true if the value is a whole number. Decoding into any
// yields float64 for every JSON number.
func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return v == float64(int64(v))
	case float32:
		return v == float32(int32(v))
	default:
		return false
	}
}

// validateEnumValue validates that a value is in the allowed enum set.
func validateEnumValue(fieldName string, value any, propSchema map[string]any) error {
	enumStrings, ok := propSchema["enum"].([]string)
	if !ok {
		return nil
	}
	valueStr, ok := value.(string)
	if !ok {
		return fmt.Errorf("field %q must be a string for enum validation, got %T", fieldName, value)
	}
	if slices.Contains(enumStrings, valueStr) {
		return nil
	}
	return fmt.Errorf("field %q must be one of [%s], got %q", fieldName, strings.Join(enumStrings, ", "), valueStr)
}
