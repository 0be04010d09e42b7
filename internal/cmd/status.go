package cmd

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"minder/internal/config"
	"minder/internal/control"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and session status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sockPath := config.SocketPath()
			out := newStatusPrinter()

			if !control.Ping(sockPath) {
				fmt.Fprintln(cmd.OutOrStdout(), out.dim("minderd is not running"))
				return nil
			}

			resp, err := control.Call(sockPath, &control.Request{Type: control.TypeStatus})
			if err != nil {
				return err
			}

			if resp.Server != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "minderd pid %d, up %s\n", resp.Server.Pid, resp.Server.Uptime)
			}
			if len(resp.Sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), out.dim("No supervised sessions."))
				return nil
			}
			for _, s := range resp.Sessions {
				fmt.Fprintln(cmd.OutOrStdout(), out.sessionLine(s))
			}
			return nil
		},
	}
}

// statusPrinter renders status lines, with color when stdout is a tty.
type statusPrinter struct {
	out *termenv.Output
}

func newStatusPrinter() *statusPrinter {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return &statusPrinter{out: termenv.NewOutput(os.Stdout, termenv.WithProfile(termenv.Ascii))}
	}
	return &statusPrinter{out: termenv.NewOutput(os.Stdout)}
}

func (p *statusPrinter) dim(s string) string {
	return p.out.String(s).Faint().String()
}

func (p *statusPrinter) sessionLine(s control.SessionInfo) string {
	var symbol termenv.Style
	var state string
	if s.Paused {
		symbol = p.out.String("○").Foreground(p.out.Color("3")) // yellow
		state = "paused"
	} else {
		symbol = p.out.String("●").Foreground(p.out.Color("2")) // green
		state = "watching"
	}
	line := fmt.Sprintf("  %s %s  %s", symbol, s.Key, state)
	if s.Pending > 0 {
		line += fmt.Sprintf(", %d queued", s.Pending)
	}
	line += p.dim(fmt.Sprintf("  (%d transcript entries)", s.Transcript))
	return line
}
