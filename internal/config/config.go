package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all minder settings. Zero values are filled in with defaults
// by Load, so a missing or partial config file is fine.
type Config struct {
	Watch    WatchConfig    `yaml:"watch"`
	Assessor AssessorConfig `yaml:"assessor"`
}

// WatchConfig controls the per-session watcher cycle timings.
type WatchConfig struct {
	// Poll is the worker's wakeup interval while blocked on an empty
	// event queue, bounding how long a stop signal can go unnoticed.
	Poll time.Duration `yaml:"poll"`

	// DefaultWait is how long a cycle sleeps when the report carried no
	// wait command.
	DefaultWait time.Duration `yaml:"default_wait"`

	// IdleThreshold is the minimum duration of unchanged pane content
	// before assessment may proceed.
	IdleThreshold time.Duration `yaml:"idle_threshold"`

	// IdleSpinPoll is the capture interval during the idle spin.
	IdleSpinPoll time.Duration `yaml:"idle_spin_poll"`

	// TranscriptCap is the maximum number of transcript entries kept.
	TranscriptCap int `yaml:"transcript_cap"`

	// TailLines is how many pane lines are captured for assessment context.
	TailLines int `yaml:"tail_lines"`
}

// AssessorConfig configures the external decision command.
type AssessorConfig struct {
	// Command is the assessor command line, split shell-style. The prompt
	// is appended as the final argument.
	Command string `yaml:"command"`

	// CtxBudget is the approximate character budget for the assembled
	// prompt; the transcript section is truncated to fit.
	CtxBudget int `yaml:"ctx_budget"`

	// Timeout bounds a single assessor invocation.
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Watch: WatchConfig{
			Poll:          800 * time.Millisecond,
			DefaultWait:   10 * time.Second,
			IdleThreshold: 3 * time.Second,
			IdleSpinPoll:  200 * time.Millisecond,
			TranscriptCap: 200,
			TailLines:     160,
		},
		Assessor: AssessorConfig{
			Command:   "codex exec",
			CtxBudget: 128000,
			Timeout:   60 * time.Second,
		},
	}
}

// RootDir returns the minder state directory: $MINDER_DIR if set,
// otherwise ~/.minder/.
func RootDir() string {
	if dir := os.Getenv("MINDER_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".minder")
	}
	return filepath.Join(home, ".minder")
}

// SocketPath returns the control socket path.
func SocketPath() string {
	return filepath.Join(RootDir(), "minderd.sock")
}

// PidFilePath returns the daemon pidfile path.
func PidFilePath() string {
	return filepath.Join(RootDir(), "minderd.pid")
}

// LogFilePath returns the daemon log file path.
func LogFilePath() string {
	return filepath.Join(RootDir(), "minder.log")
}

// Load reads the config from ~/.minder/config.yaml.
// A missing file returns the defaults with no error.
func Load() (*Config, error) {
	return LoadFrom(filepath.Join(RootDir(), "config.yaml"))
}

// LoadFrom reads the config from the given path.
// A missing file returns the defaults with no error.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Watch.IdleThreshold <= 0 {
		return fmt.Errorf("watch.idle_threshold must be positive")
	}
	if c.Watch.IdleSpinPoll <= 0 {
		return fmt.Errorf("watch.idle_spin_poll must be positive")
	}
	if c.Watch.TranscriptCap < 2 {
		return fmt.Errorf("watch.transcript_cap must be at least 2")
	}
	if c.Watch.TailLines <= 0 {
		return fmt.Errorf("watch.tail_lines must be positive")
	}
	if c.Assessor.Command == "" {
		return fmt.Errorf("assessor.command is required")
	}
	return nil
}
