// Copyright 2025 Joseph Cumines
//
// HTTP transport for JSON-RPC 2.0 communication

package transport

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joeycumines/axplorer/internal/logging"
)

// maxBodySize bounds a request body.
const maxBodySize = 8 << 20

// HTTPConfig holds configuration for the HTTP transport.
//
// SocketPath, when set, takes precedence over Address. An empty APIKey
// disables authentication; a non-positive RateLimit disables rate limiting.
type HTTPConfig struct {
	Address      string
	SocketPath   string
	CORSOrigin   string
	APIKey       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	RateLimit    float64
}

// DefaultHTTPConfig returns default HTTP transport configuration
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Address:      ":8080",
		CORSOrigin:   "*",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// HTTPTransport serves JSON-RPC requests via POST /message, with GET /health
// and GET /metrics alongside.
type HTTPTransport struct {
	config   HTTPConfig
	server   *http.Server
	router   chi.Router
	metrics  *Metrics
	logger   *slog.Logger
	limiter  *RateLimiter
	handler  atomic.Pointer[Handler]
	listener net.Listener
	started  time.Time
	mu       sync.Mutex
	closed   atomic.Bool
}

// NewHTTPTransport creates a new HTTP transport. Metrics and logger may be
// nil.
func NewHTTPTransport(config HTTPConfig, metrics *Metrics, logger *slog.Logger) *HTTPTransport {
	defaults := DefaultHTTPConfig()
	if config.Address == "" {
		config.Address = defaults.Address
	}
	if config.CORSOrigin == "" {
		config.CORSOrigin = defaults.CORSOrigin
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	t := &HTTPTransport{
		config:  config,
		metrics: metrics,
		logger:  logger,
		limiter: NewRateLimiter(config.RateLimit),
		started: time.Now(),
	}
	t.router = t.routes()
	t.server = &http.Server{
		Handler:           t.router,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
	}
	return t
}

func (t *HTTPTransport) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(t.observe)
	r.Use(t.cors)

	// Public endpoints, exempt from auth and rate limiting.
	r.Get("/health", t.handleHealth)
	if t.metrics != nil {
		r.Method(http.MethodGet, "/metrics", t.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(t.limiter.Middleware)
		if t.config.APIKey != "" {
			r.Use(AuthMiddleware(t.config.APIKey))
		}
		r.Post("/message", t.handleMessage)
	})

	return r
}

// Handler exposes the router, e.g. for httptest. Requests reaching /message
// before Serve or SetHandler get a 503.
func (t *HTTPTransport) Handler() http.Handler {
	return t.router
}

// SetHandler installs the JSON-RPC handler without starting a listener.
func (t *HTTPTransport) SetHandler(handler Handler) {
	t.handler.Store(&handler)
}

// cors adds CORS headers to all responses and answers preflight requests.
func (t *HTTPTransport) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", t.config.CORSOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// observe records per-route metrics and logs each request at debug level.
func (t *HTTPTransport) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		t.metrics.RecordRequest(route, status, duration)
		t.logger.Debug("request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration_ms", duration.Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// AuthMiddleware requires "Authorization: Bearer <apiKey>".
func AuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="axplorer"`)
				http.Error(w, "Missing authorization", http.StatusUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// handleMessage handles POST /message for JSON-RPC requests
func (t *HTTPTransport) handleMessage(w http.ResponseWriter, r *http.Request) {
	handler := t.handler.Load()
	if handler == nil {
		http.Error(w, "Server not ready", http.StatusServiceUnavailable)
		return
	}

	var msg Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, NewErrorResponse(nil, ErrCodeParseError, fmt.Sprintf("Invalid JSON: %v", err)), t.logger)
		return
	}

	response := respond(*handler, &msg)
	if response == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, response, t.logger)
}

// handleHealth handles GET /health for health checks
func (t *HTTPTransport) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(t.started).Seconds()),
		"server_time":    time.Now().UTC().Format(time.RFC3339),
	}, t.logger)
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", "error", err)
	}
}

// Listen binds the configured unix socket or TCP address. Serve calls it if
// it has not been called.
func (t *HTTPTransport) Listen() (net.Addr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed.Load() {
		return nil, ErrClosed
	}
	if t.listener != nil {
		return t.listener.Addr(), nil
	}

	var (
		listener net.Listener
		err      error
	)
	if t.config.SocketPath != "" {
		if err := os.Remove(t.config.SocketPath); err != nil && !os.IsNotExist(err) {
			t.logger.Warn("failed to remove stale socket", "path", t.config.SocketPath, "error", err)
		}
		listener, err = net.Listen("unix", t.config.SocketPath)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on socket %s: %w", t.config.SocketPath, err)
		}
	} else {
		listener, err = net.Listen("tcp", t.config.Address)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", t.config.Address, err)
		}
	}
	t.listener = listener
	return listener.Addr(), nil
}

// Serve starts the HTTP server and blocks until Close.
func (t *HTTPTransport) Serve(handler Handler) error {
	t.SetHandler(handler)

	addr, err := t.Listen()
	if err != nil {
		return err
	}
	t.logger.Info("HTTP transport listening", "addr", addr.String())

	t.mu.Lock()
	listener := t.listener
	t.mu.Unlock()

	if err := t.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close gracefully shuts down the HTTP server.
func (t *HTTPTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	t.mu.Lock()
	listener := t.listener
	t.mu.Unlock()
	if listener != nil {
		// Shutdown closes listeners only once Serve has adopted them.
		_ = listener.Close()
	}

	if t.config.SocketPath != "" {
		if err := os.Remove(t.config.SocketPath); err != nil && !os.IsNotExist(err) {
			t.logger.Warn("failed to remove socket file", "path", t.config.SocketPath, "error", err)
		}
	}
	return nil
}

// IsClosed returns whether the transport is closed
func (t *HTTPTransport) IsClosed() bool {
	return t.closed.Load()
}
