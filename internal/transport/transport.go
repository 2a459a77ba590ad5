// Copyright 2025 Joseph Cumines

// Package transport carries MCP JSON-RPC 2.0 messages over stdio and HTTP.
package transport

import "encoding/json"

// JSON-RPC 2.0 standard error codes.
// See: https://www.jsonrpc.org/specification#error_object
const (
	// ErrCodeParseError indicates invalid JSON was received by the server.
	ErrCodeParseError = -32700

	// ErrCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrCodeInvalidRequest = -32600

	// ErrCodeMethodNotFound indicates the method does not exist or is not available.
	ErrCodeMethodNotFound = -32601

	// ErrCodeInvalidParams indicates invalid method parameter(s).
	ErrCodeInvalidParams = -32602

	// ErrCodeInternalError indicates an internal JSON-RPC error.
	ErrCodeInternalError = -32603
)

// Version is the only JSON-RPC version spoken.
const Version = "2.0"

// Message represents a JSON-RPC 2.0 message, either a request or a response.
//
// Requests carry Method, optional Params, and an ID unless they are
// notifications. Responses carry the request's ID and exactly one of Result
// or Error.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type Message struct {
	Error   *ErrorObj       `json:"error,omitempty"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// IsNotification reports whether the message is a request that expects no
// response.
func (m *Message) IsNotification() bool {
	return m.Method != "" && len(m.ID) == 0
}

// ErrorObj represents a JSON-RPC 2.0 error object.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type ErrorObj struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Code    int             `json:"code"`
}

// NewErrorResponse builds an error response for the request id. A nil id is
// rendered as JSON null, as required when the request could not be read.
func NewErrorResponse(id json.RawMessage, code int, message string) *Message {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return &Message{
		JSONRPC: Version,
		ID:      id,
		Error:   &ErrorObj{Code: code, Message: message},
	}
}

// Handler processes one request. A nil response means nothing is sent back,
// which is the case for notifications. A returned error becomes an
// ErrCodeInternalError response.
type Handler func(*Message) (*Message, error)

// Transport delivers requests to a Handler until closed.
//
// Implementations must be safe for concurrent use.
type Transport interface {
	// Serve blocks, dispatching each request to handler. It returns nil when
	// the peer disconnects or the transport is closed.
	Serve(handler Handler) error

	// Close stops the transport. It is idempotent.
	Close() error
}

// respond runs handler and converts a handler error into a response.
func respond(handler Handler, msg *Message) *Message {
	response, err := handler(msg)
	if err != nil {
		if msg.IsNotification() {
			return nil
		}
		return NewErrorResponse(msg.ID, ErrCodeInternalError, err.Error())
	}
	return response
}

var (
	_ Transport = (*StdioTransport)(nil)
	_ Transport = (*HTTPTransport)(nil)
)
