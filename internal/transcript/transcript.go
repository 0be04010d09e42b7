package transcript

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Role tags a transcript entry with its origin in the watch cycle.
type Role string

const (
	RolePlan       Role = "plan"
	RoleStatus     Role = "status"
	RoleWait       Role = "wait"
	RoleWaitOutput Role = "wait_output"
	RoleIdleSpin   Role = "idle_spin"
	RoleDecision   Role = "decision"
	RoleInjection  Role = "injection"
)

// Entry is one timestamped transcript line.
type Entry struct {
	Role Role
	Text string
	At   time.Time
}

// Transcript is a bounded, insertion-ordered log of entries. Appends come
// from the watcher's own goroutine and, for plan/status entries, from the
// calling context, so all access is serialized internally.
//
// When the cap is exceeded, entry 0 is retained (the plan recorded at
// attach, which anchors every assessment prompt) along with the most recent
// cap-1 entries; the middle is discarded.
type Transcript struct {
	mu      sync.Mutex
	entries []Entry
	cap     int
}

// New creates a transcript with the given cap and the plan as entry 0.
func New(cap int, plan string) *Transcript {
	t := &Transcript{cap: cap}
	t.Append(RolePlan, plan)
	return t
}

// Append adds an entry and trims if the cap is exceeded.
func (t *Transcript) Append(role Role, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, Entry{Role: role, Text: text, At: time.Now()})
	if len(t.entries) > t.cap {
		keep := t.entries[len(t.entries)-(t.cap-1):]
		trimmed := make([]Entry, 0, t.cap)
		trimmed = append(trimmed, t.entries[0])
		trimmed = append(trimmed, keep...)
		t.entries = trimmed
	}
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Entries returns a copy of all entries in insertion order.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Render formats the transcript as timestamped role-tagged lines, oldest
// first, matching the chronological order the assessor prompt documents.
// If the result exceeds budget bytes the head is cut and replaced with an
// ellipsis marker, keeping the most recent lines intact.
func (t *Transcript) Render(budget int) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder
	for _, e := range t.entries {
		fmt.Fprintf(&b, "%s [%s] %s\n", e.At.Format(time.RFC3339), e.Role, e.Text)
	}
	s := b.String()
	if budget > 0 && len(s) > budget {
		s = "..." + CutHead(s, budget)
	}
	return s
}

// CutHead returns the trailing keep bytes of s, advancing the cut point to
// the next rune boundary so a multi-byte rune is never split.
func CutHead(s string, keep int) string {
	if keep >= len(s) {
		return s
	}
	cut := len(s) - keep
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}
