package assess

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/shlex"
)

// CommandRunner abstracts assessor command execution for testability.
type CommandRunner func(ctx context.Context, name string, args []string) (stdout string, stderr string, err error)

// CLIAssessor shells out to a configured command line (e.g. "codex exec
// --model gpt-5") with the assembled prompt appended as the final argument,
// and parses a JSON decision from stdout.
type CLIAssessor struct {
	Command   string
	CtxBudget int
	Timeout   time.Duration
	Runner    CommandRunner
}

// NewCLIAssessor creates a CLIAssessor with the default runner.
func NewCLIAssessor(command string, ctxBudget int, timeout time.Duration) *CLIAssessor {
	return &CLIAssessor{
		Command:   strings.TrimSpace(command),
		CtxBudget: ctxBudget,
		Timeout:   timeout,
		Runner:    runCommand,
	}
}

// rawDecision is the wire shape the assessor command must produce.
type rawDecision struct {
	Action  string `json:"action"`
	Command string `json:"command"`
}

// Assess runs the assessor command and validates its output. Any failure —
// a non-zero exit, no JSON in the output, an unknown action — is returned
// as an error; the caller decides how to degrade.
func (a *CLIAssessor) Assess(ctx context.Context, c Context) (Decision, error) {
	argv, err := shlex.Split(a.Command)
	if err != nil {
		return Decision{}, fmt.Errorf("split assessor command: %w", err)
	}
	if len(argv) == 0 {
		return Decision{}, fmt.Errorf("assessor command is empty")
	}

	timeout := a.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt := BuildPrompt(c, a.CtxBudget)
	args := append(argv[1:], prompt)

	runner := a.Runner
	if runner == nil {
		runner = runCommand
	}
	stdout, stderr, err := runner(timeoutCtx, argv[0], args)
	if err != nil {
		return Decision{}, fmt.Errorf("assessor command failed: %w: %s", err, strings.TrimSpace(stderr))
	}

	raw, err := parseDecision(stdout)
	if err != nil {
		return Decision{}, err
	}
	return validate(raw.Action, strings.TrimSpace(raw.Command))
}

func runCommand(ctx context.Context, name string, args []string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// parseDecision extracts the first valid JSON object from assessor output.
// CLI models tend to wrap the object in prose or logging, so scan for the
// outermost braces and shrink from the right until something parses.
func parseDecision(output string) (rawDecision, error) {
	obj, ok := extractJSONObject(output)
	if !ok {
		return rawDecision{}, fmt.Errorf("no JSON object found in assessor output")
	}
	var raw rawDecision
	if err := json.Unmarshal(obj, &raw); err != nil {
		return rawDecision{}, fmt.Errorf("parse assessor decision: %w", err)
	}
	if raw.Action == "" {
		return rawDecision{}, fmt.Errorf("assessor decision missing action")
	}
	return raw, nil
}

func extractJSONObject(output string) ([]byte, bool) {
	start := strings.Index(output, "{")
	end := strings.LastIndex(output, "}")
	if start == -1 || end == -1 || end < start {
		return nil, false
	}
	for i := end; i > start; i-- {
		candidate := strings.TrimSpace(output[start : i+1])
		var tmp map[string]any
		if err := json.Unmarshal([]byte(candidate), &tmp); err == nil {
			return []byte(candidate), true
		}
	}
	return nil, false
}
