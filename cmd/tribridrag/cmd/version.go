package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tribridrag/tribridrag/pkg/version"
)

func newVersionCmd() *cobra.Command {
	var (
		jsonOut  bool
		shortOut bool
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch {
			case shortOut:
				fmt.Fprintln(cmd.OutOrStdout(), version.Short())
			case jsonOut:
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(version.GetInfo())
			default:
				fmt.Fprintln(cmd.OutOrStdout(), version.String())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&shortOut, "short", false, "Print only the version number")
	return cmd
}
