// Copyright 2025 Joseph Cumines

package main

import (
	"fmt"

	"github.com/joeycumines/axplorer/internal/server"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of axplorer",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "axplorer version %s (MCP %s)\n", server.Version, server.ProtocolVersion)
		},
	}
}
