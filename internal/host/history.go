// history.go — Session history capability and an in-memory implementation.
package host

import (
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/dev-console/pagetap/internal/util"
)

// History is the session history mutator plus the current location.
type History interface {
	PushState(state any, title, rawURL string) error
	ReplaceState(state any, title, rawURL string) error
	State() any
	Href() string
}

// ErrCrossOrigin is returned when a history mutation targets another origin.
var ErrCrossOrigin = errors.New("history: url is not same-origin with the current document")

type historyEntry struct {
	url   *url.URL
	state any
}

// MemoryHistory is a session history held in memory. Traversal dispatches
// popstate, and hashchange when only the fragment changed, on events.
type MemoryHistory struct {
	mu      sync.Mutex
	entries []historyEntry
	index   int
	events  *EventTarget
}

// NewMemoryHistory starts a history at startURL, which must be absolute.
func NewMemoryHistory(startURL string, events *EventTarget) (*MemoryHistory, error) {
	u, err := url.Parse(startURL)
	if err != nil {
		return nil, fmt.Errorf("history start url: %w", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("history start url %q is not absolute", startURL)
	}
	if events == nil {
		events = NewEventTarget(nil)
	}
	return &MemoryHistory{entries: []historyEntry{{url: u}}, events: events}, nil
}

func (h *MemoryHistory) PushState(state any, _ string, rawURL string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	next, err := h.resolveLocked(rawURL)
	if err != nil {
		return err
	}
	h.entries = append(h.entries[:h.index+1], historyEntry{url: next, state: state})
	h.index++
	return nil
}

func (h *MemoryHistory) ReplaceState(state any, _ string, rawURL string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	next, err := h.resolveLocked(rawURL)
	if err != nil {
		return err
	}
	h.entries[h.index] = historyEntry{url: next, state: state}
	return nil
}

func (h *MemoryHistory) State() any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[h.index].state
}

func (h *MemoryHistory) Href() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[h.index].url.String()
}

// Len returns the number of entries in the history.
func (h *MemoryHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Back is Go(-1).
func (h *MemoryHistory) Back() { h.Go(-1) }

// Forward is Go(1).
func (h *MemoryHistory) Forward() { h.Go(1) }

// Go traverses delta entries. Out-of-range traversal is ignored.
func (h *MemoryHistory) Go(delta int) {
	h.mu.Lock()
	target := h.index + delta
	if delta == 0 || target < 0 || target >= len(h.entries) {
		h.mu.Unlock()
		return
	}
	from, to := h.entries[h.index], h.entries[target]
	h.index = target
	h.mu.Unlock()

	h.events.Dispatch(&PopStateEvent{State: to.state})
	if fragmentOnly(from.url, to.url) {
		h.events.Dispatch(&HashChangeEvent{OldURL: from.url.String(), NewURL: to.url.String()})
	}
}

// SetHash navigates to the current location with a new fragment, as assigning
// location.hash does.
func (h *MemoryHistory) SetHash(fragment string) {
	h.mu.Lock()
	cur := h.entries[h.index].url
	next := *cur
	next.Fragment = fragment
	if next.String() == cur.String() {
		h.mu.Unlock()
		return
	}
	h.entries = append(h.entries[:h.index+1], historyEntry{url: &next})
	h.index++
	h.mu.Unlock()

	h.events.Dispatch(&HashChangeEvent{OldURL: cur.String(), NewURL: next.String()})
}

func (h *MemoryHistory) resolveLocked(rawURL string) (*url.URL, error) {
	cur := h.entries[h.index].url
	next, err := util.ResolveReference(cur, rawURL)
	if err != nil {
		return nil, err
	}
	if util.ExtractOrigin(next.String()) != util.ExtractOrigin(cur.String()) {
		return nil, ErrCrossOrigin
	}
	return next, nil
}

func fragmentOnly(a, b *url.URL) bool {
	if a.Fragment == b.Fragment {
		return false
	}
	x, y := *a, *b
	x.Fragment, y.Fragment = "", ""
	x.RawFragment, y.RawFragment = "", ""
	return x.String() == y.String()
}
