// Copyright 2025 Joseph Cumines
//
// Adapter server for a scripted accessibility graph

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joeycumines/axplorer/internal/axtest"
	"github.com/joeycumines/axplorer/internal/logging"
	"github.com/joeycumines/axplorer/internal/remote"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

func newFixtureAdapterCmd() *cobra.Command {
	var (
		fixture, listen, logLevel string
	)
	cmd := &cobra.Command{
		Use:   "fixture-adapter --fixture FILE",
		Short: "Serve a scripted accessibility graph as an adapter server",
		Long: `Serve the accessibility graph described by a YAML fixture over the
remote adapter protocol, for exercising serve and MCP clients without a
macOS host.

--listen takes host:port, or unix:PATH for a unix socket.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.NewWriter(cmd.ErrOrStderr(), logLevel, logging.FormatText)
			if err != nil {
				return err
			}
			graph, err := axtest.LoadFixture(fixture)
			if err != nil {
				return err
			}
			lis, err := listenAdapter(listen)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serveAdapter(ctx, lis, graph, logger)
		},
	}
	cmd.Flags().StringVarP(&fixture, "fixture", "f", "", "YAML fixture describing applications and elements")
	cmd.Flags().StringVarP(&listen, "listen", "l", "localhost:50061", "Listen address")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	_ = cmd.MarkFlagRequired("fixture")
	return cmd
}

func listenAdapter(addr string) (net.Listener, error) {
	network := "tcp"
	if path, ok := strings.CutPrefix(addr, "unix:"); ok {
		network, addr = "unix", strings.TrimPrefix(path, "//")
		if err := os.Remove(addr); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}
	lis, err := net.Listen(network, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return lis, nil
}

// serveAdapter serves graph on lis until ctx is done.
func serveAdapter(ctx context.Context, lis net.Listener, graph *axtest.Graph, logger *slog.Logger) error {
	gs := grpc.NewServer()
	srv := remote.NewServer(graph, remote.WithServerLogger(logger))
	srv.Register(gs)

	errChan := make(chan error, 1)
	go func() {
		errChan <- gs.Serve(lis)
	}()
	logger.Info("adapter server listening", "addr", lis.Addr().String())

	select {
	case <-ctx.Done():
		srv.Shutdown()
		gs.GracefulStop()
		<-errChan
		logger.Info("adapter server stopped")
		return nil
	case err := <-errChan:
		srv.Shutdown()
		return fmt.Errorf("adapter server: %w", err)
	}
}
