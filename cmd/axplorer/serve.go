// Copyright 2025 Joseph Cumines
//
// MCP server command - provides JSON-RPC 2.0 interface over stdio or HTTP

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeycumines/axplorer/internal/config"
	"github.com/joeycumines/axplorer/internal/logging"
	"github.com/joeycumines/axplorer/internal/server"
	"github.com/joeycumines/axplorer/internal/transport"
	"github.com/spf13/cobra"
)

// shutdownGrace bounds the wait for the transport to return after a signal.
// A stdio transport blocked reading a terminal never does.
const shutdownGrace = 5 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server against a remote adapter",
		Long: `Run the MCP server. Explorers reach the accessibility API through the
adapter server at AXPLORER_ADAPTER_ADDR; requests arrive over stdio or HTTP
(MCP_TRANSPORT).

Settings come from the environment, optionally overlaid on the YAML file
named by AXPLORER_CONFIG. Flags take precedence over both.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if err := applyFlags(cmd, cfg); err != nil {
				return err
			}
			return runServe(cmd, cfg)
		},
	}

	f := cmd.Flags()
	f.String("adapter", "", "Adapter server address (AXPLORER_ADAPTER_ADDR)")
	f.String("transport", "", "MCP transport: stdio or http (MCP_TRANSPORT)")
	f.String("http-address", "", "HTTP listen address (MCP_HTTP_ADDRESS)")
	f.String("http-socket", "", "HTTP unix socket path, instead of an address (MCP_HTTP_SOCKET)")
	f.Int("default-depth", 0, "Traversal depth when a tool call omits max_depth (AXPLORER_DEFAULT_DEPTH)")
	f.Float64("rate-limit", 0, "HTTP requests per second, 0 for unlimited (MCP_RATE_LIMIT)")
	f.String("log-level", "", "Log level: debug, info, warn or error (AXPLORER_LOG_LEVEL)")
	f.String("log-format", "", "Log format: text or json (AXPLORER_LOG_FORMAT)")
	f.String("audit-log", "", "Append tool invocation records to this file (AXPLORER_AUDIT_LOG)")
	return cmd
}

// applyFlags overrides cfg with the flags that were set, then revalidates.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	str := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	str("adapter", &cfg.AdapterAddr)
	str("http-address", &cfg.HTTPAddress)
	str("http-socket", &cfg.HTTPSocketPath)
	str("log-level", &cfg.LogLevel)
	str("log-format", &cfg.LogFormat)
	str("audit-log", &cfg.AuditLog)
	if f.Changed("transport") {
		v, _ := f.GetString("transport")
		cfg.Transport = config.TransportType(v)
	}
	if f.Changed("default-depth") {
		cfg.DefaultDepth, _ = f.GetInt("default-depth")
	}
	if f.Changed("rate-limit") {
		cfg.RateLimit, _ = f.GetFloat64("rate-limit")
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return err
	}
	return nil
}

func runServe(cmd *cobra.Command, cfg *config.Config) error {
	logger, err := logging.NewWriter(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	audit, err := server.NewAuditLogger(cfg.AuditLog)
	if err != nil {
		return err
	}
	metrics := transport.NewMetrics()

	mcpServer, err := server.NewMCPServer(cfg,
		server.WithLogger(logger),
		server.WithMetrics(metrics),
		server.WithAuditLogger(audit),
	)
	if err != nil {
		_ = audit.Close()
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	tr := newTransport(cmd, cfg, metrics, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- mcpServer.Serve(tr)
	}()

	// Wait for shutdown signal or the transport to finish
	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
		mcpServer.Shutdown()
		select {
		case err = <-errChan:
		case <-time.After(shutdownGrace):
			err = errors.New("forced shutdown: transport did not stop")
		}
	case err = <-errChan:
		mcpServer.Shutdown()
	}

	if err != nil {
		logger.Error("server error", "error", err)
		return err
	}
	logger.Info("server shutdown complete")
	return nil
}

func newTransport(cmd *cobra.Command, cfg *config.Config, metrics *transport.Metrics, logger *slog.Logger) transport.Transport {
	if cfg.Transport == config.TransportHTTP {
		return transport.NewHTTPTransport(transport.HTTPConfig{
			Address:      cfg.HTTPAddress,
			SocketPath:   cfg.HTTPSocketPath,
			CORSOrigin:   cfg.CORSOrigin,
			APIKey:       cfg.APIKey,
			ReadTimeout:  cfg.HTTPReadTimeout,
			WriteTimeout: cfg.HTTPWriteTimeout,
			RateLimit:    cfg.RateLimit,
		}, metrics, logger)
	}
	return transport.NewStdioTransport(cmd.InOrStdin(), cmd.OutOrStdout(), logger)
}

