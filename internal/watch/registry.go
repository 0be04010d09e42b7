package watch

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"

	"minder/internal/assess"
	"minder/internal/config"
	"minder/internal/pane"
)

// ErrUnknownSession is returned by Report and Pause when no live watcher
// exists for the session key.
var ErrUnknownSession = errors.New("unknown session")

// Attach results.
const (
	AttachCreated = "attached"
	AttachUpdated = "updated"
)

// Clear results.
const (
	ClearDone = "cleared"
	ClearNoop = "noop"
)

// Registry creates, looks up, and destroys watchers keyed by session.
// It is the only entry point the control surface uses. A session key maps
// to at most one live watcher; operations on distinct keys never interact.
type Registry struct {
	cfg      *config.Config
	assessor assess.Assessor

	// NewPane opens a pane handle for an attach. Defaults to pane.Open,
	// which resolves tmux and pty: targets; tests swap in fakes.
	NewPane func(target string) (pane.Pane, error)

	mu       sync.Mutex
	watchers map[string]*Watcher
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg *config.Config, a assess.Assessor) *Registry {
	return &Registry{
		cfg:      cfg,
		assessor: a,
		NewPane: pane.Open,
		watchers: make(map[string]*Watcher),
	}
}

// Attach creates a watcher for the session, or updates the plan of the
// existing one. Repeat calls are idempotent, not an error; reattaching a
// paused session resumes it.
func (r *Registry) Attach(key, paneTarget, plan, waitCmd string) (string, error) {
	r.mu.Lock()
	if w, ok := r.watchers[key]; ok {
		r.mu.Unlock()
		w.UpdatePlan(plan, waitCmd)
		log.Printf("registry: session %s plan updated", key)
		return AttachUpdated, nil
	}
	r.mu.Unlock()

	p, err := r.NewPane(paneTarget)
	if err != nil {
		return "", err
	}

	w := NewWatcher(key, p, r.assessor, r.cfg.Watch, plan, waitCmd, r.dropOnExit)

	r.mu.Lock()
	if existing, ok := r.watchers[key]; ok {
		// Lost the race to a concurrent attach; treat as update.
		r.mu.Unlock()
		p.Close()
		existing.UpdatePlan(plan, waitCmd)
		return AttachUpdated, nil
	}
	r.watchers[key] = w
	r.mu.Unlock()

	w.Start()
	log.Printf("registry: session %s attached to pane %s", key, paneTarget)
	return AttachCreated, nil
}

// Report appends a status entry and enqueues a wait-after-report event on
// the session's watcher. Returns without waiting for the cycle.
func (r *Registry) Report(key, status, waitCmd string) error {
	w, ok := r.lookup(key)
	if !ok {
		return ErrUnknownSession
	}
	w.Report(status, waitCmd)
	return nil
}

// Pause synchronously consults the assessor for the session's immediate
// next step, bypassing idle detection, and pauses automatic injection.
func (r *Registry) Pause(ctx context.Context, key string) (string, error) {
	w, ok := r.lookup(key)
	if !ok {
		return "", ErrUnknownSession
	}
	return w.Pause(ctx)
}

// Clear stops and removes the session's watcher, releasing its pane.
// Safe to call repeatedly; returns ClearNoop when nothing exists.
func (r *Registry) Clear(key string) string {
	r.mu.Lock()
	w, ok := r.watchers[key]
	if ok {
		delete(r.watchers, key)
	}
	r.mu.Unlock()
	if !ok {
		return ClearNoop
	}

	w.Stop()
	w.pane.Close()
	log.Printf("registry: session %s cleared", key)
	return ClearDone
}

// Sessions returns the keys of all live watchers.
func (r *Registry) Sessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.watchers))
	for k := range r.watchers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Lookup returns the watcher for a key, if any. Exposed for status
// reporting; mutation goes through the operations above.
func (r *Registry) Lookup(key string) (*Watcher, bool) {
	return r.lookup(key)
}

// Shutdown stops all watchers and releases their panes.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	watchers := make([]*Watcher, 0, len(r.watchers))
	for _, w := range r.watchers {
		watchers = append(watchers, w)
	}
	r.watchers = make(map[string]*Watcher)
	r.mu.Unlock()

	for _, w := range watchers {
		w.Stop()
		w.pane.Close()
	}
}

func (r *Registry) lookup(key string) (*Watcher, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.watchers[key]
	return w, ok
}

// dropOnExit removes a watcher whose worker ended on its own, so a pane
// failure leaves the session detached rather than half-alive.
func (r *Registry) dropOnExit(w *Watcher, err error) {
	if err == nil {
		return // normal stop via Clear/Shutdown; already removed
	}
	r.mu.Lock()
	if current, ok := r.watchers[w.Key]; ok && current == w {
		delete(r.watchers, w.Key)
	}
	r.mu.Unlock()
	w.pane.Close()
	log.Printf("registry: session %s detached after pane failure: %v", w.Key, err)
}
