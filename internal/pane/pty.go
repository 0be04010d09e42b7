package pane

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/vito/midterm"
	"golang.org/x/term"
)

// ErrPTYWriteTimeout is returned by Send when the pty write does not
// complete within the deadline. The child is likely hung (not reading
// stdin); treating this as a pane failure ends the owning watcher.
var ErrPTYWriteTimeout = fmt.Errorf("pty write timed out")

// ptyWriteTimeout bounds writes to the child pty. If the child stops
// reading its stdin the kernel pty buffer fills up and Write blocks
// indefinitely.
const ptyWriteTimeout = 3 * time.Second

// PTYPane hosts a child process on a pty and renders its output through a
// virtual terminal, so minder can supervise a process without tmux. The
// child's screen is the captured text.
type PTYPane struct {
	mu     sync.Mutex
	ptm    *os.File
	cmd    *exec.Cmd
	vt     *midterm.Terminal
	exited bool
	closed bool
}

// StartPTY launches command in a pty sized rows x cols. Zero dimensions
// fall back to the controlling terminal's size, or 24x80 without a tty.
func StartPTY(command string, args []string, rows, cols int) (*PTYPane, error) {
	if rows <= 0 || cols <= 0 {
		if w, h, err := term.GetSize(int(os.Stdin.Fd())); err == nil {
			cols, rows = w, h
		} else {
			rows, cols = 24, 80
		}
	}

	p := &PTYPane{
		cmd: exec.Command(command, args...),
		vt:  midterm.NewTerminal(rows, cols),
	}
	var err error
	p.ptm, err = pty.StartWithSize(p.cmd, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", command, err)
	}

	go p.pipeOutput()
	go func() {
		p.cmd.Wait()
		p.mu.Lock()
		p.exited = true
		p.mu.Unlock()
	}()
	return p, nil
}

// pipeOutput feeds child pty output into the virtual terminal.
func (p *PTYPane) pipeOutput() {
	buf := make([]byte, 4096)
	for {
		n, err := p.ptm.Read(buf)
		if n > 0 {
			p.mu.Lock()
			p.vt.Write(buf[:n])
			p.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// Capture renders the virtual terminal's current screen as plain text.
// It fails once the child has exited or the pane was closed.
func (p *PTYPane) Capture() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", fmt.Errorf("pty pane is closed")
	}
	if p.exited {
		return "", fmt.Errorf("child process has exited")
	}

	var b strings.Builder
	for _, line := range p.vt.Content {
		row := strings.Map(func(r rune) rune {
			if r == 0 {
				return ' '
			}
			return r
		}, string(line))
		b.WriteString(strings.TrimRight(row, " "))
		b.WriteByte('\n')
	}
	// Trailing blank rows are rendering artifacts, not pane content.
	return strings.TrimRight(b.String(), "\n"), nil
}

// Send writes text to the child pty, followed by a carriage return when
// activate is true. A short delay before the return gives TUI children time
// to process the typed text before the submit.
func (p *PTYPane) Send(text string, activate bool) error {
	if err := p.write([]byte(text), ptyWriteTimeout); err != nil {
		return err
	}
	if activate {
		time.Sleep(50 * time.Millisecond)
		return p.write([]byte{'\r'}, ptyWriteTimeout)
	}
	return nil
}

// write performs a pty write with a timeout, running the write in a
// goroutine so the caller can give up if the child is hung.
func (p *PTYPane) write(data []byte, timeout time.Duration) error {
	p.mu.Lock()
	if p.closed || p.exited {
		p.mu.Unlock()
		return fmt.Errorf("pty pane is gone")
	}
	ptm := p.ptm
	p.mu.Unlock()

	type result struct{ err error }
	ch := make(chan result, 1)
	go func() {
		_, err := ptm.Write(data)
		ch <- result{err}
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("pty write: %w", r.err)
		}
		return nil
	case <-timer.C:
		return ErrPTYWriteTimeout
	}
}

// Close releases the pty. The child receives EOF/SIGHUP and is otherwise
// left to its own lifecycle.
func (p *PTYPane) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.ptm.Close()
}
