// Copyright 2025 Joseph Cumines
//
// Configuration package for the axplorer server

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// TransportType represents the MCP transport type
type TransportType string

const (
	// TransportStdio uses stdin/stdout for communication
	TransportStdio TransportType = "stdio"
	// TransportHTTP serves JSON-RPC over HTTP POST
	TransportHTTP TransportType = "http"
)

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config holds the configuration for the axplorer server.
//
// Values are resolved in order: defaults, then the YAML file named by
// AXPLORER_CONFIG (if any), then individual environment variables.
type Config struct {
	AdapterAddr      string        `yaml:"adapter_addr"`
	AdapterCertFile  string        `yaml:"adapter_cert_file"`
	LogLevel         string        `yaml:"log_level"`
	LogFormat        string        `yaml:"log_format"`
	AuditLog         string        `yaml:"audit_log"`
	Transport        TransportType `yaml:"transport"`
	HTTPAddress      string        `yaml:"http_address"`
	HTTPSocketPath   string        `yaml:"http_socket"`
	CORSOrigin       string        `yaml:"cors_origin"`
	APIKey           string        `yaml:"api_key"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	HTTPReadTimeout  time.Duration `yaml:"http_read_timeout"`
	HTTPWriteTimeout time.Duration `yaml:"http_write_timeout"`
	RateLimit        float64       `yaml:"rate_limit"`
	DefaultDepth     int           `yaml:"default_depth"`
	AdapterTLS       bool          `yaml:"adapter_tls"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		AdapterAddr:      "localhost:50061",
		RequestTimeout:   10 * time.Second,
		DefaultDepth:     10,
		LogLevel:         "info",
		LogFormat:        LogFormatText,
		Transport:        TransportStdio,
		HTTPAddress:      ":8080",
		CORSOrigin:       "*",
		HTTPReadTimeout:  30 * time.Second,
		HTTPWriteTimeout: 30 * time.Second,
	}
}

// Load loads the configuration from the optional YAML file and environment
// variables
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("AXPLORER_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	var err error

	c.AdapterAddr = getEnv("AXPLORER_ADAPTER_ADDR", c.AdapterAddr)
	c.AdapterTLS = getEnvAsBool("AXPLORER_ADAPTER_TLS", c.AdapterTLS)
	c.AdapterCertFile = getEnv("AXPLORER_ADAPTER_CERT_FILE", c.AdapterCertFile)
	if c.RequestTimeout, err = getEnvAsDuration("AXPLORER_REQUEST_TIMEOUT", c.RequestTimeout); err != nil {
		return err
	}
	if c.DefaultDepth, err = getEnvAsInt("AXPLORER_DEFAULT_DEPTH", c.DefaultDepth); err != nil {
		return err
	}
	c.LogLevel = getEnv("AXPLORER_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("AXPLORER_LOG_FORMAT", c.LogFormat)
	c.AuditLog = getEnv("AXPLORER_AUDIT_LOG", c.AuditLog)

	// MCP Transport configuration
	c.Transport = TransportType(getEnv("MCP_TRANSPORT", string(c.Transport)))
	c.HTTPAddress = getEnv("MCP_HTTP_ADDRESS", c.HTTPAddress)
	c.HTTPSocketPath = getEnv("MCP_HTTP_SOCKET", c.HTTPSocketPath)
	c.CORSOrigin = getEnv("MCP_CORS_ORIGIN", c.CORSOrigin)
	if c.HTTPReadTimeout, err = getEnvAsDuration("MCP_HTTP_READ_TIMEOUT", c.HTTPReadTimeout); err != nil {
		return err
	}
	if c.HTTPWriteTimeout, err = getEnvAsDuration("MCP_HTTP_WRITE_TIMEOUT", c.HTTPWriteTimeout); err != nil {
		return err
	}
	c.APIKey = getEnv("MCP_API_KEY", c.APIKey)
	if c.RateLimit, err = getEnvAsFloat("MCP_RATE_LIMIT", c.RateLimit); err != nil {
		return err
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.AdapterAddr == "" {
		return fmt.Errorf("adapter address cannot be empty")
	}
	if c.Transport != TransportStdio && c.Transport != TransportHTTP {
		return fmt.Errorf("invalid transport type: %s (must be 'stdio' or 'http')", c.Transport)
	}
	if c.LogFormat != LogFormatText && c.LogFormat != LogFormatJSON {
		return fmt.Errorf("invalid log format: %s (must be 'text' or 'json')", c.LogFormat)
	}
	if c.DefaultDepth < 0 {
		return fmt.Errorf("default depth cannot be negative: %d", c.DefaultDepth)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive: %s", c.RequestTimeout)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit cannot be negative: %g", c.RateLimit)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q (expected integer)", key, value)
	}
	return result, nil
}

func getEnvAsFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q (expected number)", key, value)
	}
	return result, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q (expected duration, e.g., '30s', '5m')", key, value)
	}
	return d, nil
}
