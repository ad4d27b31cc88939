package capture

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dev-console/pagetap/internal/types"
)

// fakeClock advances by step on every reading.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newFakeClock(step time.Duration) *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC), step: step}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

type forwarded struct {
	tag     types.Tag
	payload json.RawMessage
}

type recordingChannel struct {
	mu   sync.Mutex
	got  []forwarded
	fail bool
}

func (r *recordingChannel) AddCustomEvent(tag types.Tag, payload json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("substrate unavailable")
	}
	r.got = append(r.got, forwarded{tag: tag, payload: payload})
	return nil
}

func (r *recordingChannel) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

type faultLog struct {
	mu    sync.Mutex
	calls [][]any
}

func (f *faultLog) report(args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, args)
}

func (f *faultLog) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
