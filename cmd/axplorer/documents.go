// Copyright 2025 Joseph Cumines
//
// Offline snapshot document commands

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/joeycumines/axplorer/internal/cells"
	"github.com/joeycumines/axplorer/internal/document"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// readDocument reads the file named by args, or stdin.
func readDocument(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			fmt.Fprintln(cmd.ErrOrStderr(), "Reading document from stdin, end with Ctrl-D")
		}
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}
	return string(data), nil
}

func writeDocument(cmd *cobra.Command, text string) error {
	_, err := io.WriteString(cmd.OutOrStdout(), text)
	return err
}

func newFilterKeysCmd() *cobra.Command {
	var keys []string
	cmd := &cobra.Command{
		Use:   "filter-keys --key KEY [--key KEY...] [FILE]",
		Short: "Remove keys anywhere in a snapshot document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readDocument(cmd, args)
			if err != nil {
				return err
			}
			out, err := document.FilterKeys(text, keys)
			if err != nil {
				return err
			}
			return writeDocument(cmd, out)
		},
	}
	cmd.Flags().StringSliceVarP(&keys, "key", "k", nil, "Key to remove (repeatable, or comma separated)")
	return cmd
}

func newFilterNodesCmd() *cobra.Command {
	var key, value string
	cmd := &cobra.Command{
		Use:   "filter-nodes --key KEY [--value VALUE] [FILE]",
		Short: "Remove nodes whose attributes carry a key, with their subtrees",
		Long: `Remove every node whose attributes carry KEY, including its subtree.
With --value, only nodes whose KEY equals VALUE are removed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readDocument(cmd, args)
			if err != nil {
				return err
			}
			var match *string
			if cmd.Flags().Changed("value") {
				match = &value
			}
			out, err := document.FilterNodes(text, key, match)
			if err != nil {
				return err
			}
			return writeDocument(cmd, out)
		},
	}
	cmd.Flags().StringVarP(&key, "key", "k", "", "Attribute name to match")
	cmd.Flags().StringVar(&value, "value", "", "Attribute value to match")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func newFlattenCellsCmd() *cobra.Command {
	var compact bool
	cmd := &cobra.Command{
		Use:   "flatten-cells [--compact] [FILE]",
		Short: "Collapse spreadsheet cells into cell/value records",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readDocument(cmd, args)
			if err != nil {
				return err
			}
			transform := cells.FlattenYAML
			if compact {
				transform = cells.CompactYAML
			}
			out, err := transform(text)
			if err != nil {
				return err
			}
			return writeDocument(cmd, out)
		},
	}
	cmd.Flags().BoolVar(&compact, "compact", false, "Also drop geometry and state keys")
	return cmd
}
