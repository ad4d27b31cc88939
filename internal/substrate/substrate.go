// Package substrate defines the Recording Substrate contract and its implementations.
//
// A substrate owns the native-event timeline: once Record is called it pushes
// its own events through the Emit callback until stopped, and it accepts custom
// tagged payloads into the same ordered stream.
package substrate

import (
	"encoding/json"
	"errors"

	"github.com/dev-console/pagetap/internal/types"
)

// NativeFunc receives each native event produced by the substrate.
type NativeFunc func(types.Event)

// StopFunc halts native-event production.
type StopFunc func() error

// RecordOptions configures a recording.
type RecordOptions struct {
	Emit         NativeFunc
	RecordCanvas bool
}

// Substrate is the external session-recording engine.
type Substrate interface {
	Record(opts RecordOptions) (StopFunc, error)
	AddCustomEvent(tag types.Tag, payload json.RawMessage) error
}

var (
	// ErrAlreadyRecording is returned by Record on a substrate that is recording.
	ErrAlreadyRecording = errors.New("substrate: already recording")
	// ErrNotRecording is returned when custom events arrive outside a recording.
	ErrNotRecording = errors.New("substrate: not recording")
)
