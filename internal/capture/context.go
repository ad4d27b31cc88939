// context.go — Capture Context: session buffer, correlation bookkeeping, fault reporting.
package capture

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dev-console/pagetap/internal/serialize"
	"github.com/dev-console/pagetap/internal/telemetry"
	"github.com/dev-console/pagetap/internal/types"
)

// CustomChannel is the Recording Substrate's custom-event input.
type CustomChannel interface {
	AddCustomEvent(tag types.Tag, payload json.RawMessage) error
}

// FaultFunc receives capture faults. Install points it at the page's original
// console error method.
type FaultFunc func(args ...any)

// Options configures a Context.
type Options struct {
	MaxLength int              // serializer cap; serialize.DefaultMaxLength when <= 0
	Forward   CustomChannel    // nil keeps custom events in the buffer only
	Now       func() time.Time // defaults to time.Now
	NewID     func() string    // defaults to uuid.NewString
	Logger    *slog.Logger
	Metrics   *telemetry.Metrics
}

// Context is the owned mutable state threaded through all interceptors.
//
// All fields are protected by mu unless noted otherwise. The fault reporter
// and forward channel are called without holding mu.
type Context struct {
	mu sync.Mutex

	buffer   []types.Event
	inflight map[string]time.Time // correlation id -> start time, removed on terminal
	stopped  bool
	stopFn   func() error
	fault    FaultFunc

	// Immutable after NewContext.
	maxLength int
	forward   CustomChannel
	now       func() time.Time
	newID     func() string
	logger    *slog.Logger
	metrics   *telemetry.Metrics
}

// NewContext creates an empty capture context.
func NewContext(opts Options) *Context {
	if opts.MaxLength <= 0 {
		opts.MaxLength = serialize.DefaultMaxLength
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Context{
		inflight:  make(map[string]time.Time),
		maxLength: opts.MaxLength,
		forward:   opts.Forward,
		now:       opts.Now,
		newID:     opts.NewID,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
}

// MaxLength returns the serializer cap.
func (c *Context) MaxLength() int { return c.maxLength }

// Serialize applies the bounded serializer with this context's cap.
func (c *Context) Serialize(v any) string { return serialize.Serialize(v, c.maxLength) }

// Now returns the capture clock reading.
func (c *Context) Now() time.Time { return c.now() }

// NewID returns a fresh correlation id.
func (c *Context) NewID() string { return c.newID() }

// Logger returns the diagnostic logger.
func (c *Context) Logger() *slog.Logger { return c.logger }

// SetFaultReporter installs fn as the sink for capture faults.
func (c *Context) SetFaultReporter(fn FaultFunc) {
	c.mu.Lock()
	c.fault = fn
	c.mu.Unlock()
}

// ReportFault records a capture fault. It never panics.
func (c *Context) ReportFault(site string, cause any) {
	c.metrics.Fault(site)
	c.logger.Debug("capture fault", "site", site, "cause", cause)

	c.mu.Lock()
	fault := c.fault
	c.mu.Unlock()
	if fault == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("fault reporter panicked", "site", site, "panic", r)
		}
	}()
	fault(fmt.Sprintf("[pagetap] capture failed in %s:", site), cause)
}

// Guard runs fn, converting any panic into a reported fault.
// Capture logic runs under Guard so it can never break the host call it observes.
func (c *Context) Guard(site string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Debug("capture panic", "site", site, "stack", string(debug.Stack()))
			c.ReportFault(site, r)
		}
	}()
	fn()
}
