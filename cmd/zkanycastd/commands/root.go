// Package commands implements the zkanycastd cobra CLI: configuration
// loading, logging, the session supervisor, and the control loop wired
// together, plus OS signal handling.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the top-level cobra command for zkanycastd.
var rootCmd = &cobra.Command{
	Use:   "zkanycastd",
	Short: "Per-host anycast health controller coordinated via ZooKeeper",
	Long: "zkanycastd registers a node's membership in a replicated service via an\n" +
		"ephemeral ZooKeeper znode, health-checks the node with an operator-supplied\n" +
		"command, and emits BGP announce/withdraw lines on stdout for an\n" +
		"ExaBGP-compatible speaker process.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
