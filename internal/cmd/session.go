package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"minder/internal/config"
	"minder/internal/control"
)

func newAttachCmd() *cobra.Command {
	var paneTarget string
	var plan string
	var waitCmd string

	cmd := &cobra.Command{
		Use:   "attach <session> --pane <target> --plan <text>",
		Short: "Register a session for supervision",
		Long: `Register a session with its pane target and plan. Attaching an
existing session updates its plan and resumes it if it was paused.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if paneTarget == "" || plan == "" {
				return fmt.Errorf("--pane and --plan are required")
			}
			resp, err := control.Call(config.SocketPath(), &control.Request{
				Type:    control.TypeAttach,
				Session: args[0],
				Pane:    paneTarget,
				Plan:    plan,
				WaitCmd: waitCmd,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Result)
			return nil
		},
	}

	cmd.Flags().StringVar(&paneTarget, "pane", "", "tmux pane target (e.g. %1), or pty:<command> to run the command on a pty")
	cmd.Flags().StringVar(&plan, "plan", "", "What the session is trying to accomplish")
	cmd.Flags().StringVar(&waitCmd, "wait-cmd", "", "Default wait command to run after each report")

	return cmd
}

func newReportCmd() *cobra.Command {
	var waitCmd string

	cmd := &cobra.Command{
		Use:   "report <session> <status...>",
		Short: "Report progress on a session",
		Long: `Report a progress update. The daemon waits for side effects to
settle, checks the pane for idleness, consults the assessor, and either
types the next instruction into the pane or stops supervising.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := control.Call(config.SocketPath(), &control.Request{
				Type:    control.TypeReport,
				Session: args[0],
				Status:  strings.Join(args[1:], " "),
				WaitCmd: waitCmd,
			})
			return err
		},
	}

	cmd.Flags().StringVar(&waitCmd, "wait-cmd", "", "Command to run before assessing (overrides the attach default)")

	return cmd
}

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <session>",
		Short: "Pause a session and ask the assessor for a next step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := control.Call(config.SocketPath(), &control.Request{
				Type:    control.TypePause,
				Session: args[0],
			})
			if err != nil {
				return err
			}
			if resp.Directive == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "paused; assessor suggests stopping here")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "paused; suggested next step: %s\n", resp.Directive)
			return nil
		},
	}
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <session>",
		Short: "Stop supervising a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := control.Call(config.SocketPath(), &control.Request{
				Type:    control.TypeClear,
				Session: args[0],
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Result)
			return nil
		},
	}
}
