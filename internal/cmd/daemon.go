package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"minder/internal/config"
	"minder/internal/control"
	"minder/internal/daemon"
)

func newServeCmd() *cobra.Command {
	var logToFile bool
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the minder daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return daemon.Run(cfg, logToFile)
		},
	}

	cmd.Flags().BoolVar(&logToFile, "log-file", false, "Log to the state-dir log file instead of stderr")
	cmd.Flags().StringVar(&configPath, "config", "", "Config file path (default ~/.minder/config.yaml)")

	return cmd
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the minder daemon in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if control.Ping(config.SocketPath()) {
				return fmt.Errorf("minderd is already running")
			}
			if err := daemon.Fork(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "minderd started")
			return nil
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the minder daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := daemon.StopRunning(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "minderd stopped")
			return nil
		},
	}
}

func newUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Ensure the minder daemon is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if control.Ping(config.SocketPath()) {
				fmt.Fprintln(cmd.OutOrStdout(), "minderd is running")
				return nil
			}
			if err := daemon.Fork(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "minderd started")
			fmt.Fprintln(cmd.OutOrStdout(), "Register a session with: minder attach <session> --pane <target> --plan <text>")
			return nil
		},
	}
}

// loadConfig reads the config from an explicit path or the default location.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}
