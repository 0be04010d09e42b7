package watch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"minder/internal/assess"
	"minder/internal/config"
	"minder/internal/transcript"
)

// fastCfg returns watch timings suitable for tests.
func fastCfg() config.WatchConfig {
	return config.WatchConfig{
		Poll:          10 * time.Millisecond,
		DefaultWait:   10 * time.Millisecond,
		IdleThreshold: 30 * time.Millisecond,
		IdleSpinPoll:  5 * time.Millisecond,
		TranscriptCap: 200,
		TailLines:     160,
	}
}

// fakePane is an in-memory pane.
type fakePane struct {
	mu         sync.Mutex
	buffer     string
	sent       []string
	activated  []bool
	captureErr error
	closed     bool
}

func (p *fakePane) Capture() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.captureErr != nil {
		return "", p.captureErr
	}
	return p.buffer, nil
}

func (p *fakePane) Send(text string, activate bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, text)
	p.activated = append(p.activated, activate)
	return nil
}

func (p *fakePane) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePane) sentInputs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

func (p *fakePane) activatedAt(i int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activated[i]
}

func (p *fakePane) setBuffer(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buffer = s
}

func (p *fakePane) setCaptureErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captureErr = err
}

// assessorFunc adapts a function to the Assessor interface.
type assessorFunc func(context.Context, assess.Context) (assess.Decision, error)

func (f assessorFunc) Assess(ctx context.Context, c assess.Context) (assess.Decision, error) {
	return f(ctx, c)
}

func stubContinue(directive string) assessorFunc {
	return func(context.Context, assess.Context) (assess.Decision, error) {
		return assess.Decision{Verdict: assess.VerdictContinue, Directive: directive}, nil
	}
}

func stubStop() assessorFunc {
	return func(context.Context, assess.Context) (assess.Decision, error) {
		return assess.Decision{Verdict: assess.VerdictStop}, nil
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func entriesByRole(w *Watcher, role transcript.Role) []transcript.Entry {
	var out []transcript.Entry
	for _, e := range w.Transcript().Entries() {
		if e.Role == role {
			out = append(out, e)
		}
	}
	return out
}

func newTestWatcher(t *testing.T, p *fakePane, a assess.Assessor) *Watcher {
	t.Helper()
	w := NewWatcher("test", p, a, fastCfg(), "test plan", "", nil)
	w.Start()
	t.Cleanup(func() {
		w.Stop()
		w.Wait(time.Second)
	})
	return w
}

func TestContinueVerdictInjectsThenStandby(t *testing.T) {
	p := &fakePane{buffer: "steady"}
	w := newTestWatcher(t, p, stubContinue("run build --fix"))

	w.Report("compiled", "")
	waitFor(t, "injection", func() bool { return len(p.sentInputs()) > 0 })

	if got := p.sentInputs(); len(got) != 1 || got[0] != "run build --fix" {
		t.Errorf("sent = %v, want exactly [run build --fix]", got)
	}
	if !p.activatedAt(0) {
		t.Error("injection missing activation keystroke")
	}
	if w.Paused() {
		t.Error("watcher paused after continue verdict")
	}

	injections := entriesByRole(w, transcript.RoleInjection)
	if len(injections) != 1 || injections[0].Text != "run build --fix" {
		t.Errorf("injection entries = %v", injections)
	}
	decisions := entriesByRole(w, transcript.RoleDecision)
	if len(decisions) != 1 || !strings.HasPrefix(decisions[0].Text, "continue") {
		t.Errorf("decision entries = %v", decisions)
	}
}

func TestStopVerdictPausesWithoutInjection(t *testing.T) {
	p := &fakePane{buffer: "all done"}
	w := newTestWatcher(t, p, stubStop())

	w.Report("all green", "true")
	waitFor(t, "pause", func() bool { return w.Paused() })

	if got := p.sentInputs(); len(got) != 0 {
		t.Errorf("sent = %v, want no injection", got)
	}
	decisions := entriesByRole(w, transcript.RoleDecision)
	if len(decisions) != 1 || decisions[0].Text != "stop" {
		t.Errorf("decision entries = %v", decisions)
	}
}

func TestContinueEmptyDirectiveIsRecordedNoop(t *testing.T) {
	p := &fakePane{buffer: "hmm"}
	w := newTestWatcher(t, p, stubContinue(""))

	w.Report("unsure", "")
	waitFor(t, "diagnostic decision", func() bool {
		return len(entriesByRole(w, transcript.RoleDecision)) > 0
	})

	if got := p.sentInputs(); len(got) != 0 {
		t.Errorf("sent = %v, want no injection (not even a bare Enter)", got)
	}
	if w.Paused() {
		t.Error("watcher paused after lenient no-op")
	}
	d := entriesByRole(w, transcript.RoleDecision)[0].Text
	if !strings.Contains(d, "no-op") {
		t.Errorf("decision = %q, want a no-op diagnostic", d)
	}
}

func TestAssessorFailureIsRecordedNoop(t *testing.T) {
	p := &fakePane{buffer: "x"}
	failing := assessorFunc(func(context.Context, assess.Context) (assess.Decision, error) {
		return assess.Decision{}, fmt.Errorf("model returned garbage")
	})
	w := newTestWatcher(t, p, failing)

	w.Report("status", "")
	waitFor(t, "diagnostic decision", func() bool {
		return len(entriesByRole(w, transcript.RoleDecision)) > 0
	})

	if got := p.sentInputs(); len(got) != 0 {
		t.Errorf("sent = %v, want no injection", got)
	}
	if w.Paused() {
		t.Error("assessor failure must not pause the session")
	}
}

func TestBashWaitCapturesCombinedOutput(t *testing.T) {
	p := &fakePane{buffer: "x"}
	w := newTestWatcher(t, p, stubStop())

	w.Report("built", "printf hi")
	waitFor(t, "wait output", func() bool {
		return len(entriesByRole(w, transcript.RoleWaitOutput)) > 0
	})

	out := entriesByRole(w, transcript.RoleWaitOutput)[0].Text
	if out != "hi" {
		t.Errorf("wait output = %q, want %q", out, "hi")
	}
}

func TestFailingWaitCommandIsEvidenceNotError(t *testing.T) {
	p := &fakePane{buffer: "x"}
	w := newTestWatcher(t, p, stubStop())

	w.Report("built", "echo boom >&2; exit 3")
	waitFor(t, "wait output", func() bool {
		return len(entriesByRole(w, transcript.RoleWaitOutput)) > 0
	})

	out := entriesByRole(w, transcript.RoleWaitOutput)[0].Text
	if !strings.Contains(out, "boom") {
		t.Errorf("wait output = %q, want stderr captured", out)
	}
	// The cycle went on to assess rather than aborting.
	waitFor(t, "decision", func() bool {
		return len(entriesByRole(w, transcript.RoleDecision)) > 0
	})
}

func TestIdleSpinWaitsForQuiescence(t *testing.T) {
	cfg := fastCfg()
	p := &fakePane{buffer: "initial"}
	w := NewWatcher("test", p, stubStop(), cfg, "plan", "", nil)
	w.mu.Lock()
	w.lastChange = time.Now()
	w.mu.Unlock()

	var mutMu sync.Mutex
	var lastMutation time.Time
	go func() {
		for i := 0; i < 3; i++ {
			time.Sleep(15 * time.Millisecond)
			p.setBuffer(fmt.Sprintf("change %d", i))
		}
		mutMu.Lock()
		lastMutation = time.Now()
		mutMu.Unlock()
	}()

	start := time.Now()
	if err := w.spinUntilIdle(); err != nil {
		t.Fatalf("spinUntilIdle: %v", err)
	}
	end := time.Now()

	if end.Sub(start) < cfg.IdleThreshold {
		t.Errorf("spin exited after %v, before the idle threshold %v", end.Sub(start), cfg.IdleThreshold)
	}
	mutMu.Lock()
	last := lastMutation
	mutMu.Unlock()
	if !last.IsZero() && end.Before(last.Add(cfg.IdleThreshold)) {
		t.Errorf("spin exited %v after last change, want >= %v", end.Sub(last), cfg.IdleThreshold)
	}

	spins := entriesByRole(w, transcript.RoleIdleSpin)
	if len(spins) != 1 || !strings.Contains(spins[0].Text, "idle_for=") {
		t.Errorf("idle_spin entries = %v", spins)
	}
}

func TestUnknownEventKindIgnored(t *testing.T) {
	p := &fakePane{buffer: "x"}
	w := newTestWatcher(t, p, stubContinue("next"))

	before := w.Transcript().Len()
	w.queue.Enqueue(Event{Kind: "some-future-variant"})
	waitFor(t, "queue drain", func() bool { return w.Pending() == 0 })

	if got := p.sentInputs(); len(got) != 0 {
		t.Errorf("sent = %v, want nothing for unknown kind", got)
	}
	if w.Transcript().Len() != before {
		t.Error("unknown event kind mutated the transcript")
	}

	// The worker is still alive and processes real events.
	w.Report("status", "")
	waitFor(t, "injection", func() bool { return len(p.sentInputs()) == 1 })
}

func TestPausedWatcherDiscardsEvents(t *testing.T) {
	p := &fakePane{buffer: "x"}

	var mu sync.Mutex
	verdict := assess.VerdictStop
	a := assessorFunc(func(context.Context, assess.Context) (assess.Decision, error) {
		mu.Lock()
		defer mu.Unlock()
		if verdict == assess.VerdictStop {
			return assess.Decision{Verdict: assess.VerdictStop}, nil
		}
		return assess.Decision{Verdict: assess.VerdictContinue, Directive: "go"}, nil
	})
	w := newTestWatcher(t, p, a)

	w.Report("first", "")
	waitFor(t, "pause", func() bool { return w.Paused() })

	mu.Lock()
	verdict = assess.VerdictContinue
	mu.Unlock()

	w.Report("second", "")
	waitFor(t, "queue drain", func() bool { return w.Pending() == 0 })
	time.Sleep(50 * time.Millisecond)

	if got := p.sentInputs(); len(got) != 0 {
		t.Errorf("sent = %v, want no injection while paused", got)
	}
}

// gatedPane blocks Capture until released, letting tests hold a cycle at
// its capture point.
type gatedPane struct {
	fakePane
	gate chan struct{}
}

func (p *gatedPane) Capture() (string, error) {
	<-p.gate
	return p.fakePane.Capture()
}

func TestStopDuringCycleIsNotPaneFailure(t *testing.T) {
	p := &gatedPane{fakePane: fakePane{buffer: "x"}, gate: make(chan struct{})}

	var mu sync.Mutex
	var exitErr error
	exited := make(chan struct{})
	w := NewWatcher("test", p, stubContinue("go"), fastCfg(), "plan", "", func(_ *Watcher, err error) {
		mu.Lock()
		exitErr = err
		mu.Unlock()
		close(exited)
	})
	w.Start()

	w.Report("status", "")
	// Let the worker finish its wait and block in the capture.
	time.Sleep(30 * time.Millisecond)

	// A clear stops the watcher and closes the pane while the cycle is
	// still holding the capture; the in-flight cycle's failure must read
	// as a normal stop, not a pane failure.
	w.Stop()
	p.setCaptureErr(fmt.Errorf("pane handle closed"))
	close(p.gate)

	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after stop")
	}
	mu.Lock()
	defer mu.Unlock()
	if exitErr != nil {
		t.Errorf("exit error = %v, want nil for a stopped watcher", exitErr)
	}
}

func TestAtMostOneInjectionPerEvent(t *testing.T) {
	p := &fakePane{buffer: "x"}
	w := newTestWatcher(t, p, stubContinue("step"))

	for i := 0; i < 3; i++ {
		w.Report(fmt.Sprintf("status %d", i), "")
	}
	waitFor(t, "all cycles", func() bool { return len(p.sentInputs()) == 3 })
	time.Sleep(50 * time.Millisecond)

	if got := p.sentInputs(); len(got) != 3 {
		t.Errorf("sent %d injections for 3 events", len(got))
	}
	for _, s := range p.sentInputs() {
		if strings.TrimSpace(s) == "" {
			t.Error("an empty injection was sent")
		}
	}
}
