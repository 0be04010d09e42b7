package pane

import (
	"fmt"
	"os/exec"
	"strings"
)

// CmdRunner abstracts command execution so tests can fake tmux.
type CmdRunner interface {
	Run(name string, args ...string) (string, error)
}

// ExecRunner implements CmdRunner using os/exec.
type ExecRunner struct{}

// Run executes a command and returns its combined output.
func (ExecRunner) Run(name string, args ...string) (string, error) {
	out, err := exec.Command(name, args...).CombinedOutput()
	return strings.TrimRight(string(out), "\n"), err
}

// TmuxPane addresses an existing tmux pane by id (e.g. "%7", the value of
// `tmux display-message -p '#{pane_id}'`).
type TmuxPane struct {
	Target string
	Runner CmdRunner
}

// NewTmuxPane creates a TmuxPane with the default ExecRunner.
func NewTmuxPane(target string) *TmuxPane {
	return &TmuxPane{Target: target, Runner: ExecRunner{}}
}

// Capture returns the pane's current visible text via capture-pane.
func (p *TmuxPane) Capture() (string, error) {
	out, err := p.Runner.Run("tmux", "capture-pane", "-p", "-t", p.Target)
	if err != nil {
		return "", fmt.Errorf("tmux capture-pane %s: %w: %s", p.Target, err, out)
	}
	return out, nil
}

// Send delivers text literally via send-keys. The activation Enter is a
// separate send-keys call so tmux never interprets the directive itself as
// a key name.
func (p *TmuxPane) Send(text string, activate bool) error {
	if _, err := p.Runner.Run("tmux", "send-keys", "-t", p.Target, "-l", text); err != nil {
		return fmt.Errorf("tmux send-keys %s: %w", p.Target, err)
	}
	if activate {
		if _, err := p.Runner.Run("tmux", "send-keys", "-t", p.Target, "Enter"); err != nil {
			return fmt.Errorf("tmux send-keys %s Enter: %w", p.Target, err)
		}
	}
	return nil
}

// Close is a no-op: the tmux pane belongs to the user's server.
func (p *TmuxPane) Close() error { return nil }
