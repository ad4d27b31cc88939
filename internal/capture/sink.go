// sink.go — Event Sink Adapter: the single choke point into the session buffer.
package capture

import (
	"encoding/json"
	"fmt"

	"github.com/dev-console/pagetap/internal/types"
)

// EmitCustom freezes payload to JSON and appends a custom event stamped with
// the current time. The event is forwarded to the Recording Substrate when a
// forward channel is configured and recording has not been stopped.
// Failures are reported as faults; nothing is returned to the caller.
func (c *Context) EmitCustom(tag types.Tag, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.ReportFault("emit "+string(tag), fmt.Errorf("encode payload: %w", err))
		return
	}
	ev := types.Event{
		Kind:      types.KindCustom,
		Tag:       tag,
		Payload:   data,
		Timestamp: types.Millis(c.now()),
	}

	c.mu.Lock()
	c.buffer = append(c.buffer, ev)
	forward := c.forward
	if c.stopped {
		forward = nil
	}
	c.mu.Unlock()

	c.metrics.EventAppended(string(types.KindCustom), string(tag))
	if forward == nil {
		return
	}
	if err := forward.AddCustomEvent(tag, data); err != nil {
		c.ReportFault("forward "+string(tag), err)
	}
}

// EmitNative appends a substrate-authored event verbatim. The kind is forced to
// native so a substrate cannot impersonate an interceptor.
func (c *Context) EmitNative(ev types.Event) {
	ev.Kind = types.KindNative
	ev.Tag = ""

	c.mu.Lock()
	c.buffer = append(c.buffer, ev)
	c.mu.Unlock()

	c.metrics.EventAppended(string(types.KindNative), "")
}

// Len returns the number of buffered events.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// snapshot returns a copy of the buffer. Payloads are shared: they are never
// mutated after emission.
func (c *Context) snapshot() []types.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Event, len(c.buffer))
	copy(out, c.buffer)
	return out
}
