// Package pane adapts addressable terminal surfaces for the watcher: text
// capture and keystroke injection. Two implementations exist, one backed by
// a tmux pane and one hosting a child process directly on a pty.
package pane

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// Pane is one interactive terminal surface. Implementations must fail
// loudly, not silently, when the underlying surface is gone: capture and
// send errors end the owning watcher.
type Pane interface {
	// Capture returns the pane's current visible text.
	Capture() (string, error)

	// Send delivers text to the pane. When activate is true an Enter key
	// press follows, submitting the text to whatever is reading the pane.
	Send(text string, activate bool) error

	// Close releases the pane handle. The underlying surface is left
	// running; only minder's hold on it is dropped.
	Close() error
}

// Open creates a pane handle for an attach target. A target of the form
// "pty:<command line>" launches the command on a pty, letting minder
// supervise a process without tmux; anything else addresses an existing
// tmux pane.
func Open(target string) (Pane, error) {
	if cmdline, ok := strings.CutPrefix(target, "pty:"); ok {
		argv, err := shlex.Split(cmdline)
		if err != nil {
			return nil, fmt.Errorf("parse pty command %q: %w", cmdline, err)
		}
		if len(argv) == 0 {
			return nil, fmt.Errorf("pty target %q has no command", target)
		}
		return StartPTY(argv[0], argv[1:], 0, 0)
	}
	return NewTmuxPane(target), nil
}

// Tail returns the last n lines of captured text.
func Tail(text string, n int) string {
	if n <= 0 {
		return ""
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
