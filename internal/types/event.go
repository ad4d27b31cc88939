// event.go — Session buffer event envelope.
// Payloads are frozen to JSON at emission time so an Event is immutable once created
// and a dump round-trips through export byte-for-byte.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind distinguishes substrate-authored events from events produced by the interceptors.
type Kind string

const (
	KindNative Kind = "native"
	KindCustom Kind = "custom"
)

// Tag identifies the interceptor that produced a custom event.
type Tag string

const (
	TagConsole Tag = "console"
	TagNetwork Tag = "network"
	TagNav     Tag = "nav"
)

// Valid reports whether t is one of the known custom event tags.
func (t Tag) Valid() bool {
	switch t {
	case TagConsole, TagNetwork, TagNav:
		return true
	}
	return false
}

// Event is one entry in the session buffer.
type Event struct {
	Kind      Kind            `json:"kind"`
	Tag       Tag             `json:"tag,omitempty"` // empty for native events
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds at capture
}

// IsCustom reports whether the event was produced by an interceptor.
func (e Event) IsCustom() bool { return e.Kind == KindCustom }

// Time returns the capture time of the event.
func (e Event) Time() time.Time { return time.UnixMilli(e.Timestamp) }

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event has no payload")
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Tag, err)
	}
	return nil
}

// Millis converts t to the timestamp unit used by every payload.
func Millis(t time.Time) int64 { return t.UnixMilli() }
