// correlation.go — Per-request completion gate.
// A request may be terminated by several asynchronous signals (XHR fires both
// load and loadend). The first terminal signal wins; later ones are dropped.
// loadend is the expected trailer and checks Pending first, so the duplicate
// counter only sees signals that really compete.
package capture

import "time"

// Begin registers id as in flight, starting at start.
func (c *Context) Begin(id string, start time.Time) {
	c.mu.Lock()
	c.inflight[id] = start
	c.mu.Unlock()
	c.metrics.InFlight(1)
}

// Complete claims the terminal event for id. It returns the start time and true
// exactly once per Begin; every later call returns false.
func (c *Context) Complete(id string) (time.Time, bool) {
	c.mu.Lock()
	start, ok := c.inflight[id]
	if ok {
		delete(c.inflight, id)
	}
	c.mu.Unlock()

	if !ok {
		c.metrics.DuplicateTerminal()
		c.logger.Debug("dropping duplicate terminal signal", "id", id)
		return time.Time{}, false
	}
	c.metrics.InFlight(-1)
	return start, true
}

// Pending reports whether id is still awaiting its terminal event.
func (c *Context) Pending(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[id]
	return ok
}

// InFlight returns the number of requests started but not yet terminated.
func (c *Context) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// Elapsed returns the non-negative time since start, and the terminal
// timestamp derived from it so terminal.timestamp >= start.timestamp holds
// even if the wall clock steps backwards.
func (c *Context) Elapsed(start time.Time) (durationMs float64, terminalTs int64) {
	d := c.now().Sub(start)
	if d < 0 {
		d = 0
	}
	return float64(d) / float64(time.Millisecond), start.Add(d).UnixMilli()
}
