package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/spf13/cobra"

	"minder/internal/config"
)

func newLogsCmd() *cobra.Command {
	var follow bool
	var lines int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.LogFilePath()
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("no log file at %s (daemon never started?)", path)
			}

			tailArgs := []string{"-n", strconv.Itoa(lines)}
			if follow {
				tailArgs = append(tailArgs, "-F")
			}
			tailArgs = append(tailArgs, path)

			tail := exec.Command("tail", tailArgs...)
			tail.Stdout = cmd.OutOrStdout()
			tail.Stderr = cmd.ErrOrStderr()
			return tail.Run()
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow the log")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")

	return cmd
}
