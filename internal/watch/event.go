package watch

import "sync"

// Event kinds. The set is open-ended: workers ignore kinds they do not
// recognize so queued events from newer callers degrade to no-ops instead
// of wedging a session.
const (
	KindWaitAfterReport = "wait-after-report"
)

// Event is one unit of work for a session's worker.
type Event struct {
	Kind string

	// WaitCmd is the optional bash command to run during the wait phase
	// of a wait-after-report event. Empty means sleep the default wait.
	WaitCmd string
}

// eventQueue is an unbounded FIFO with a notification channel, so
// enqueueing never blocks the caller and the worker can select on Notify
// alongside its stop signal.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{notify: make(chan struct{}, 1)}
}

// Enqueue appends an event and nudges the worker.
func (q *eventQueue) Enqueue(ev Event) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Dequeue pops the oldest event, or returns false when the queue is empty.
func (q *eventQueue) Dequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return Event{}, false
	}
	ev := q.events[0]
	q.events = q.events[1:]
	return ev, true
}

// Notify returns the wakeup channel.
func (q *eventQueue) Notify() <-chan struct{} {
	return q.notify
}

// Len returns the number of pending events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
