// loopback.go — In-process substrate.
// Native events are produced by calling Inject; custom events are appended to
// the substrate's own stream. Useful for Go hosts with no DOM to record.
package substrate

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dev-console/pagetap/internal/types"
)

// Native event types, numbered the way DOM recorders number them.
const (
	NativeDOMContentLoaded = 0
	NativeLoad             = 1
	NativeFullSnapshot     = 2
	NativeIncremental      = 3
	NativeMeta             = 4
	NativeCustom           = 5
)

// NativeData is the payload of a loopback native event.
type NativeData struct {
	Type int             `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Loopback is a substrate that lives in the same process as the page.
type Loopback struct {
	mu        sync.Mutex
	emit      NativeFunc
	recording bool
	canvas    bool
	stream    []types.Event
	now       func() time.Time
}

// NewLoopback creates an idle loopback substrate. now defaults to time.Now.
func NewLoopback(now func() time.Time) *Loopback {
	if now == nil {
		now = time.Now
	}
	return &Loopback{now: now}
}

func (l *Loopback) Record(opts RecordOptions) (StopFunc, error) {
	if opts.Emit == nil {
		return nil, fmt.Errorf("substrate: record requires an emit callback")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.recording {
		return nil, ErrAlreadyRecording
	}
	l.emit = opts.Emit
	l.canvas = opts.RecordCanvas
	l.recording = true

	var once sync.Once
	return func() error {
		once.Do(func() {
			l.mu.Lock()
			l.recording = false
			l.emit = nil
			l.mu.Unlock()
		})
		return nil
	}, nil
}

// RecordsCanvas reports whether the active recording captures canvas content.
func (l *Loopback) RecordsCanvas() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canvas
}

// Recording reports whether Record is active.
func (l *Loopback) Recording() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recording
}

// Inject produces a native event. It is dropped when not recording.
func (l *Loopback) Inject(eventType int, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode native data: %w", err)
	}
	payload, err := json.Marshal(NativeData{Type: eventType, Data: raw})
	if err != nil {
		return fmt.Errorf("encode native event: %w", err)
	}

	l.mu.Lock()
	if !l.recording {
		l.mu.Unlock()
		return ErrNotRecording
	}
	ev := types.Event{Kind: types.KindNative, Payload: payload, Timestamp: types.Millis(l.now())}
	l.stream = append(l.stream, ev)
	emit := l.emit
	l.mu.Unlock()

	emit(ev)
	return nil
}

func (l *Loopback) AddCustomEvent(tag types.Tag, payload json.RawMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.recording {
		return ErrNotRecording
	}
	l.stream = append(l.stream, types.Event{
		Kind:      types.KindCustom,
		Tag:       tag,
		Payload:   append(json.RawMessage(nil), payload...),
		Timestamp: types.Millis(l.now()),
	})
	return nil
}

// Stream returns a copy of every event the substrate has seen, in order.
func (l *Loopback) Stream() []types.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.Event(nil), l.stream...)
}
