// Package assess defines the decision contract for the external assessor
// and a CLI-backed implementation. Given bounded context about a supervised
// session, the assessor returns a stop/continue verdict with at most one
// corrective directive.
package assess

import (
	"context"
	"fmt"
)

// Verdict is the closed set of assessor outcomes.
type Verdict string

const (
	VerdictStop     Verdict = "stop"
	VerdictContinue Verdict = "continue"
)

// Decision is the validated assessor output. Directive is meaningful only
// when Verdict is continue; a continue with an empty directive is the
// assessor declining to act, which the watcher records as a no-op.
type Decision struct {
	Verdict   Verdict
	Directive string
}

// Context is the bounded evidence handed to the assessor.
type Context struct {
	Plan       string // the session's goal statement
	Transcript string // rendered transcript tail, oldest first
	WaitOutput string // combined output of the wait phase
	PaneTail   string // fresh capture of the pane's trailing lines
}

// Assessor converts session context into a decision. Implementations may
// block; the watcher calls from its own goroutine.
type Assessor interface {
	Assess(ctx context.Context, c Context) (Decision, error)
}

// validate checks the raw decision against the contract: a known verdict,
// and no directive on stop.
func validate(action, command string) (Decision, error) {
	switch Verdict(action) {
	case VerdictStop:
		return Decision{Verdict: VerdictStop}, nil
	case VerdictContinue:
		return Decision{Verdict: VerdictContinue, Directive: command}, nil
	default:
		return Decision{}, fmt.Errorf("assessor returned unknown action %q", action)
	}
}
