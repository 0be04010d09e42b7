// Package daemon runs minderd: it locks the pidfile, sets up logging,
// serves the control socket, and handles shutdown signals. It also forks
// the background daemon process for 'minder up'.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"minder/internal/assess"
	"minder/internal/config"
	"minder/internal/control"
	"minder/internal/watch"
)

// Run starts the daemon in the foreground and blocks until a stop request
// or a termination signal arrives. When logToFile is set, log output goes
// to the state-dir log file instead of stderr.
func Run(cfg *config.Config, logToFile bool) error {
	if err := os.MkdirAll(config.RootDir(), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	lock, err := acquirePidFile(config.PidFilePath())
	if err != nil {
		return err
	}
	defer releasePidFile(lock, config.PidFilePath())

	if logToFile {
		// Each daemon start begins a fresh log.
		f, err := os.OpenFile(config.LogFilePath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}
	log.Printf("minderd: starting (pid %d)", os.Getpid())

	assessor := assess.NewCLIAssessor(cfg.Assessor.Command, cfg.Assessor.CtxBudget, cfg.Assessor.Timeout)
	registry := watch.NewRegistry(cfg, assessor)
	server := control.NewServer(registry, config.SocketPath())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig := <-sigCh
		log.Printf("minderd: received %v, shutting down", sig)
		server.Stop()
	}()

	err = server.Run(context.Background())
	log.Printf("minderd: stopped")
	return err
}

// acquirePidFile takes an exclusive lock on the pidfile and records our
// pid in it. The lock is held for the daemon's lifetime, so a second
// daemon fails fast instead of fighting over the socket.
func acquirePidFile(path string) (*flock.Flock, error) {
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock pidfile: %w", err)
	}
	if !locked {
		pid, _ := ReadPidFile(path)
		if pid > 0 {
			return nil, fmt.Errorf("minderd is already running (pid %d)", pid)
		}
		return nil, fmt.Errorf("minderd is already running")
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("write pidfile: %w", err)
	}
	return lock, nil
}

func releasePidFile(lock *flock.Flock, path string) {
	os.Remove(path)
	lock.Unlock()
}

// ReadPidFile returns the pid recorded in the pidfile, or 0 if the file
// is missing or malformed.
func ReadPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pidfile %s: %w", path, err)
	}
	return pid, nil
}

// Fork starts minderd in a background process by re-execing with the
// serve subcommand, then waits for the control socket to appear.
func Fork() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}

	cmd := exec.Command(exe, "serve", "--log-file")
	cmd.SysProcAttr = NewSysProcAttr()

	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return fmt.Errorf("open /dev/null: %w", err)
	}
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull

	if err := cmd.Start(); err != nil {
		devNull.Close()
		return fmt.Errorf("start daemon: %w", err)
	}

	// The daemon runs independently; reap it if it ever exits.
	go func() {
		cmd.Wait()
		devNull.Close()
	}()

	sockPath := config.SocketPath()
	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if control.Ping(sockPath) {
			return nil
		}
	}
	return fmt.Errorf("daemon did not start (socket %s not answering, check %s)",
		sockPath, config.LogFilePath())
}

// StopRunning asks a running daemon to stop and waits for the socket to
// disappear. Returns an error when no daemon is running.
func StopRunning() error {
	sockPath := config.SocketPath()
	if !control.Ping(sockPath) {
		return fmt.Errorf("minderd is not running")
	}
	if _, err := control.Call(sockPath, &control.Request{Type: control.TypeStop}); err != nil {
		return err
	}
	for i := 0; i < 50; i++ {
		if !control.Ping(sockPath) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not stop")
}
