// events.go — Window event target and the events dispatched on it.
package host

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// Event is anything dispatched on an EventTarget.
type Event interface {
	EventType() string
}

// Listener handles one dispatched event.
type Listener func(Event)

// Event type names.
const (
	EventError              = "error"
	EventUnhandledRejection = "unhandledrejection"
	EventPopState           = "popstate"
	EventHashChange         = "hashchange"
	EventLoad               = "load"
	EventAbort              = "abort"
	EventTimeout            = "timeout"
	EventLoadEnd            = "loadend"
)

// ErrorEvent is the uncaught-error signal.
type ErrorEvent struct {
	Message  string
	Filename string
	Line     int
	Column   int
	Err      error
}

func (*ErrorEvent) EventType() string { return EventError }

// RejectionEvent is the unhandled-rejection signal.
type RejectionEvent struct {
	Reason any
}

func (*RejectionEvent) EventType() string { return EventUnhandledRejection }

// PopStateEvent fires on history traversal.
type PopStateEvent struct {
	State any
}

func (*PopStateEvent) EventType() string { return EventPopState }

// HashChangeEvent fires when only the fragment of the location changes.
type HashChangeEvent struct {
	OldURL string
	NewURL string
}

func (*HashChangeEvent) EventType() string { return EventHashChange }

// ProgressEvent is dispatched by XHR instances: load, error, abort, timeout, loadend.
type ProgressEvent struct {
	Type   string
	Loaded int64
	Total  int64
}

func (e *ProgressEvent) EventType() string { return e.Type }

// EventTarget dispatches events to registered listeners in registration order.
// A panicking listener is logged and does not prevent later listeners from running.
type EventTarget struct {
	mu        sync.RWMutex
	listeners map[string][]Listener
	logger    *slog.Logger
}

// NewEventTarget creates an empty event target.
func NewEventTarget(logger *slog.Logger) *EventTarget {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventTarget{listeners: make(map[string][]Listener), logger: logger}
}

// AddEventListener registers fn for events of the given type.
func (t *EventTarget) AddEventListener(eventType string, fn Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners[eventType] = append(t.listeners[eventType], fn)
}

// ListenerCount returns the number of listeners registered for eventType.
func (t *EventTarget) ListenerCount(eventType string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.listeners[eventType])
}

// Dispatch delivers ev to every listener registered for its type.
// Listeners run outside the lock so they may register further listeners.
func (t *EventTarget) Dispatch(ev Event) {
	t.mu.RLock()
	fns := append([]Listener(nil), t.listeners[ev.EventType()]...)
	t.mu.RUnlock()

	for _, fn := range fns {
		t.invoke(fn, ev)
	}
}

func (t *EventTarget) invoke(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("event listener panicked", "event", ev.EventType(), "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn(ev)
}
