package watch

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"minder/internal/assess"
	"minder/internal/config"
	"minder/internal/pane"
	"minder/internal/transcript"
)

// Watcher supervises one session: it owns the pane handle, the transcript,
// the event queue, and the idle-tracking state. One worker goroutine
// consumes events strictly in order; a new event is pulled only after the
// previous cycle fully finished.
//
// Plan and status appends may come from the calling context (attach/report)
// and are serialized against the worker's own appends by the transcript's
// internal lock.
type Watcher struct {
	Key string

	pane     pane.Pane
	assessor assess.Assessor
	cfg      config.WatchConfig

	transcript *transcript.Transcript
	queue      *eventQueue
	waitCmd    string // default wait command from attach; report may override

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// onExit is called once when the worker loop ends, with the fatal
	// error if the pane became unaddressable. The registry uses it to
	// drop the session.
	onExit func(w *Watcher, err error)

	mu           sync.Mutex
	paused       bool
	lastSnapshot string
	lastChange   time.Time
}

// NewWatcher creates a watcher for the given pane and plan. Call Start to
// launch its worker.
func NewWatcher(key string, p pane.Pane, a assess.Assessor, cfg config.WatchConfig, plan, waitCmd string, onExit func(*Watcher, error)) *Watcher {
	return &Watcher{
		Key:        key,
		pane:       p,
		assessor:   a,
		cfg:        cfg,
		transcript: transcript.New(cfg.TranscriptCap, plan),
		queue:      newEventQueue(),
		waitCmd:    waitCmd,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		onExit:     onExit,
	}
}

// Start launches the worker goroutine.
func (w *Watcher) Start() {
	w.mu.Lock()
	w.lastChange = time.Now()
	w.mu.Unlock()
	go w.run()
}

// Stop signals the worker to exit. Cooperative: an in-flight cycle is
// allowed to finish; the signal is observed between queue waits.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Wait blocks until the worker has exited or the timeout elapses.
// Returns true if the worker exited.
func (w *Watcher) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		<-w.done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.done:
		return true
	case <-timer.C:
		return false
	}
}

// Paused reports whether automatic injection is blocked.
func (w *Watcher) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

// Transcript exposes the session transcript.
func (w *Watcher) Transcript() *transcript.Transcript {
	return w.transcript
}

// Pending returns the number of queued events.
func (w *Watcher) Pending() int {
	return w.queue.Len()
}

// UpdatePlan records a new plan entry and resumes a paused session.
// Called from the registry on repeat attach.
func (w *Watcher) UpdatePlan(plan, waitCmd string) {
	w.transcript.Append(transcript.RolePlan, plan)
	w.mu.Lock()
	w.paused = false
	w.waitCmd = waitCmd
	w.mu.Unlock()
}

// Report appends a status entry and enqueues a wait-after-report event.
// It returns immediately; the cycle runs on the worker's timeline.
func (w *Watcher) Report(status, waitCmd string) {
	w.transcript.Append(transcript.RoleStatus, status)
	w.mu.Lock()
	if waitCmd == "" {
		waitCmd = w.waitCmd
	}
	w.mu.Unlock()
	w.queue.Enqueue(Event{Kind: KindWaitAfterReport, WaitCmd: waitCmd})
}

// Pause synchronously consults the assessor for an immediate next step,
// bypassing idle detection, and blocks further automatic injection until
// the session is cleared or reattached. Returns the suggested directive,
// or empty when the assessor says stop.
func (w *Watcher) Pause(ctx context.Context) (string, error) {
	w.mu.Lock()
	w.paused = true
	w.mu.Unlock()

	tail, err := w.paneTail()
	if err != nil {
		return "", err
	}
	decision, err := w.assessor.Assess(ctx, assess.Context{
		Plan:       w.planText(),
		Transcript: w.transcript.Render(0),
		WaitOutput: "[manual pause]",
		PaneTail:   tail,
	})
	if err != nil {
		w.transcript.Append(transcript.RoleDecision, fmt.Sprintf("pause: assessor failed: %v", err))
		return "", err
	}
	if decision.Verdict == assess.VerdictStop {
		w.transcript.Append(transcript.RoleDecision, "pause: stop")
		return "", nil
	}
	w.transcript.Append(transcript.RoleDecision, "pause: continue: "+decision.Directive)
	return decision.Directive, nil
}

// run is the worker loop: block on stop/notify/ticker, then drain the
// queue one fully-processed event at a time.
func (w *Watcher) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.Poll)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			w.exit(nil)
			return
		case <-w.queue.Notify():
		case <-ticker.C:
		}

		for {
			select {
			case <-w.stop:
				w.exit(nil)
				return
			default:
			}
			ev, ok := w.queue.Dequeue()
			if !ok {
				break
			}
			if err := w.cycle(ev); err != nil {
				// A clear/shutdown closes the pane under a running
				// cycle; that capture failure is not a pane failure.
				select {
				case <-w.stop:
					w.exit(nil)
					return
				default:
				}
				log.Printf("watch[%s]: pane unavailable, ending watcher: %v", w.Key, err)
				w.exit(err)
				return
			}
		}
	}
}

func (w *Watcher) exit(err error) {
	if w.onExit != nil {
		w.onExit(w, err)
	}
}

// cycle processes one event: wait, spin until idle, assess, gate. The
// returned error is non-nil only for pane failures, which are fatal to the
// watcher; wait-command and assessor failures are absorbed into the
// transcript.
func (w *Watcher) cycle(ev Event) error {
	if ev.Kind != KindWaitAfterReport {
		log.Printf("watch[%s]: ignoring event of unknown kind %q", w.Key, ev.Kind)
		return nil
	}
	if w.Paused() {
		log.Printf("watch[%s]: paused, discarding event", w.Key)
		return nil
	}

	cycleID := uuid.New().String()[:8]
	log.Printf("watch[%s]: cycle %s starting (wait_cmd=%q)", w.Key, cycleID, ev.WaitCmd)

	waitOutput := w.doWait(ev.WaitCmd)
	w.transcript.Append(transcript.RoleWaitOutput, waitOutput)

	if err := w.spinUntilIdle(); err != nil {
		return err
	}

	tail, err := w.paneTail()
	if err != nil {
		return err
	}

	decision, err := w.assessor.Assess(context.Background(), assess.Context{
		Plan:       w.planText(),
		Transcript: w.transcript.Render(0),
		WaitOutput: waitOutput,
		PaneTail:   tail,
	})
	if err != nil {
		// Contract violations and assessor failures downgrade to a
		// recorded no-op, never a crash.
		log.Printf("watch[%s]: cycle %s assessor failed: %v", w.Key, cycleID, err)
		w.transcript.Append(transcript.RoleDecision, fmt.Sprintf("no-op: assessor failed: %v", err))
		return nil
	}

	switch {
	case decision.Verdict == assess.VerdictStop:
		w.mu.Lock()
		w.paused = true
		w.mu.Unlock()
		w.transcript.Append(transcript.RoleDecision, "stop")
		log.Printf("watch[%s]: cycle %s stop verdict, session paused", w.Key, cycleID)

	case strings.TrimSpace(decision.Directive) == "":
		// A bare activation keystroke could itself disturb the task,
		// so an empty directive means no injection at all.
		w.transcript.Append(transcript.RoleDecision, "no-op: continue with empty directive")
		log.Printf("watch[%s]: cycle %s continue with empty directive, skipping injection", w.Key, cycleID)

	default:
		if err := w.pane.Send(decision.Directive, true); err != nil {
			return fmt.Errorf("inject directive: %w", err)
		}
		w.transcript.Append(transcript.RoleInjection, decision.Directive)
		w.transcript.Append(transcript.RoleDecision, "continue: "+decision.Directive)
		log.Printf("watch[%s]: cycle %s injected %q", w.Key, cycleID, decision.Directive)
	}
	return nil
}

// doWait executes the wait phase. With a command, it runs under bash and
// the combined output is the result; failures are captured as evidence,
// not errors — the cycle does not abort. Without one, it sleeps the
// default wait and synthesizes a descriptive result.
func (w *Watcher) doWait(waitCmd string) string {
	if waitCmd == "" {
		time.Sleep(w.cfg.DefaultWait)
		return fmt.Sprintf("[sleep] %.2fs", w.cfg.DefaultWait.Seconds())
	}
	w.transcript.Append(transcript.RoleWait, waitCmd)
	out, err := exec.Command("bash", "-lc", waitCmd).CombinedOutput()
	result := string(out)
	if err != nil {
		result += fmt.Sprintf("\n[wait error] %v", err)
	}
	return result
}

// spinUntilIdle polls the pane until its content has been unchanged for at
// least the idle threshold. The loop has no time cap; if the pane becomes
// unaddressable the error propagates and ends the watcher.
func (w *Watcher) spinUntilIdle() error {
	start := time.Now()
	polls := 0
	for {
		text, err := w.pane.Capture()
		if err != nil {
			return fmt.Errorf("pane capture: %w", err)
		}
		now := time.Now()

		w.mu.Lock()
		if text != w.lastSnapshot {
			w.lastSnapshot = text
			w.lastChange = now
		}
		idleFor := now.Sub(w.lastChange)
		w.mu.Unlock()

		if idleFor >= w.cfg.IdleThreshold {
			w.transcript.Append(transcript.RoleIdleSpin,
				fmt.Sprintf("idle_for=%.2fs polls=%d elapsed=%.2fs",
					idleFor.Seconds(), polls, time.Since(start).Seconds()))
			return nil
		}
		polls++
		time.Sleep(w.cfg.IdleSpinPoll)
	}
}

// paneTail captures the trailing lines of the pane for assessment context.
func (w *Watcher) paneTail() (string, error) {
	text, err := w.pane.Capture()
	if err != nil {
		return "", fmt.Errorf("pane capture: %w", err)
	}
	return pane.Tail(text, w.cfg.TailLines), nil
}

// planText returns the most recent plan entry.
func (w *Watcher) planText() string {
	entries := w.transcript.Entries()
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Role == transcript.RolePlan {
			return entries[i].Text
		}
	}
	return ""
}
