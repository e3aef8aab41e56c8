package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hightoxicity/zkanycastd/internal/version"
)

// versionCmd prints build metadata.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full("zkanycastd"))
			return nil
		},
	}
}
