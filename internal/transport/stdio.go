// Copyright 2025 Joseph Cumines
//
// Stdio transport for JSON-RPC 2.0 communication

package transport

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/axplorer/internal/logging"
)

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport is closed")

// maxLineSize bounds a single message; snapshots of large trees are sent as
// one line.
const maxLineSize = 64 << 20

// StdioTransport implements newline-delimited JSON-RPC 2.0 over a reader and
// writer pair, typically stdin and stdout.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type StdioTransport struct {
	scanner *bufio.Scanner
	writer  io.Writer
	logger  *slog.Logger
	readMu  sync.Mutex
	writeMu sync.Mutex
	closed  atomic.Bool
}

// NewStdioTransport creates a new stdio transport. A nil logger discards
// diagnostics.
func NewStdioTransport(stdin io.Reader, stdout io.Writer, logger *slog.Logger) *StdioTransport {
	if logger == nil {
		logger = logging.NewNop()
	}
	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineSize)
	return &StdioTransport{
		scanner: scanner,
		writer:  stdout,
		logger:  logger,
	}
}

// syntaxError marks a line that is not a JSON-RPC message.
type syntaxError struct{ err error }

func (e *syntaxError) Error() string { return "failed to parse JSON: " + e.err.Error() }
func (e *syntaxError) Unwrap() error { return e.err }

// ReadMessage reads the next JSON-RPC 2.0 message, skipping blank lines.
// It returns io.EOF once the input is exhausted.
func (t *StdioTransport) ReadMessage() (*Message, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	for {
		if t.closed.Load() {
			return nil, ErrClosed
		}
		if !t.scanner.Scan() {
			if err := t.scanner.Err(); err != nil {
				return nil, fmt.Errorf("failed to read line: %w", err)
			}
			return nil, io.EOF
		}

		line := strings.TrimSpace(t.scanner.Text())
		if line == "" {
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return nil, &syntaxError{err: err}
		}
		return &msg, nil
	}
}

// WriteMessage writes a JSON-RPC 2.0 message followed by a newline.
func (t *StdioTransport) WriteMessage(msg *Message) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.closed.Load() {
		return ErrClosed
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	data = append(data, '\n')
	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Close closes the transport. A blocked read returns once the underlying
// reader does.
func (t *StdioTransport) Close() error {
	t.closed.Store(true)
	return nil
}

// IsClosed returns whether the transport is closed
func (t *StdioTransport) IsClosed() bool {
	return t.closed.Load()
}

// Serve reads requests sequentially and writes each response before reading
// the next. Lines that are not valid JSON get a parse error response.
func (t *StdioTransport) Serve(handler Handler) error {
	for {
		msg, err := t.ReadMessage()
		if err != nil {
			var syntaxErr *syntaxError
			switch {
			case errors.Is(err, io.EOF):
				t.logger.Info("stdin closed")
				return nil
			case errors.Is(err, ErrClosed):
				return nil
			case errors.As(err, &syntaxErr):
				t.logger.Warn("invalid message", "error", err)
				if err := t.WriteMessage(NewErrorResponse(nil, ErrCodeParseError, err.Error())); err != nil {
					return err
				}
				continue
			default:
				return err
			}
		}

		response := respond(handler, msg)
		if response == nil {
			continue
		}
		if err := t.WriteMessage(response); err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
	}
}
