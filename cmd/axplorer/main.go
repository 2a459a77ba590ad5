// Copyright 2025 Joseph Cumines
//
// axplorer explores macOS accessibility trees: an MCP server over a remote
// adapter, plus offline tools for snapshot documents.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "axplorer",
		Short: "Explore accessibility trees of running applications",
		Long: `axplorer snapshots accessibility trees of running applications as YAML
documents with stable element IDs, and acts on the listed elements.

The serve command exposes explorers as MCP tools. The remaining commands
transform snapshot documents offline.`,
		SilenceUsage: true,
	}
	root.AddCommand(
		newServeCmd(),
		newFixtureAdapterCmd(),
		newFilterKeysCmd(),
		newFilterNodesCmd(),
		newFlattenCellsCmd(),
		newVersionCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
