// Package cmd implements the minder CLI.
package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root cobra command with all subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "minder",
		Short: "Supervisor for unattended terminal tasks",
		Long: `minder watches long-running interactive tasks in terminal panes.
A client registers a session with a plan, reports progress as it goes, and
minder waits for side effects to settle, checks the pane for idleness, asks
an external assessor what to do next, and types the next instruction into
the pane — or stops and leaves the session alone.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newStartCmd(),
		newStopCmd(),
		newUpCmd(),
		newStatusCmd(),
		newLogsCmd(),
		newAttachCmd(),
		newReportCmd(),
		newPauseCmd(),
		newClearCmd(),
		newVersionCmd(),
	)

	return rootCmd
}
