// controller.go — Session Control Surface over a Context.
package capture

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/dev-console/pagetap/internal/export"
	"github.com/dev-console/pagetap/internal/types"
)

// ErrNoStopHandle is returned by Stop when recording was never started.
var ErrNoStopHandle = errors.New("capture: recording has no stop handle")

// Controller is the control object handed back to the embedding page.
type Controller struct {
	ctx      *Context
	stopOnce sync.Once
	stopErr  error
}

// NewController returns the control surface for ctx.
func NewController(ctx *Context) *Controller {
	return &Controller{ctx: ctx}
}

// Context returns the capture context behind the controller.
func (c *Controller) Context() *Context { return c.ctx }

// SetStopHandle records the Recording Substrate's stop function.
func (c *Controller) SetStopHandle(stop func() error) {
	c.ctx.mu.Lock()
	c.ctx.stopFn = stop
	c.ctx.mu.Unlock()
}

// Stop halts the Recording Substrate. Interceptors stay installed; custom events
// keep landing in the buffer but are no longer forwarded. Calling Stop again
// returns the first result.
func (c *Controller) Stop() error {
	c.stopOnce.Do(func() {
		c.ctx.mu.Lock()
		stop := c.ctx.stopFn
		c.ctx.stopped = true
		c.ctx.mu.Unlock()

		if stop == nil {
			c.stopErr = ErrNoStopHandle
			return
		}
		if err := stop(); err != nil {
			c.stopErr = fmt.Errorf("stop recording: %w", err)
		}
	})
	return c.stopErr
}

// Stopped reports whether Stop has been called.
func (c *Controller) Stopped() bool {
	c.ctx.mu.Lock()
	defer c.ctx.mu.Unlock()
	return c.ctx.stopped
}

// Dump returns a copy of the session buffer. Later appends do not affect it.
func (c *Controller) Dump() []types.Event { return c.ctx.snapshot() }

// Count returns the number of buffered events.
func (c *Controller) Count() int { return c.ctx.Len() }

// InFlight returns the number of unterminated network requests.
func (c *Controller) InFlight() int { return c.ctx.InFlight() }

// QueryByTag returns the custom events carrying tag, in buffer order.
func (c *Controller) QueryByTag(tag types.Tag) []types.Event {
	return FilterByTag(c.ctx.snapshot(), tag)
}

// FilterByTag returns the custom events in events carrying tag, preserving order.
func FilterByTag(events []types.Event, tag types.Tag) []types.Event {
	out := make([]types.Event, 0)
	for _, ev := range events {
		if ev.Kind == types.KindCustom && ev.Tag == tag {
			out = append(out, ev)
		}
	}
	return out
}

// Export writes the full buffer to w as a JSON array.
func (c *Controller) Export(w io.Writer) error {
	events := c.ctx.snapshot()
	if err := json.NewEncoder(w).Encode(events); err != nil {
		return fmt.Errorf("export session: %w", err)
	}
	return nil
}

// ExportHAR writes the buffered network events to w as a HAR 1.2 document.
func (c *Controller) ExportHAR(w io.Writer) error {
	har := export.BuildHAR(c.ctx.snapshot())
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(har); err != nil {
		return fmt.Errorf("export har: %w", err)
	}
	return nil
}

// ExportFile saves the buffer into dir under a name embedding the capture time,
// zstd-compressed when compress is set. It returns the written path.
func (c *Controller) ExportFile(dir string, compress bool) (string, error) {
	name := "pagetap-session-" + c.ctx.Now().UTC().Format("20060102T150405.000Z") + ".json"
	if compress {
		name += ".zst"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()

	if !compress {
		if err := c.Export(f); err != nil {
			return "", err
		}
		return path, f.Close()
	}

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return "", fmt.Errorf("create zstd writer: %w", err)
	}
	if err := c.Export(zw); err != nil {
		zw.Close()
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("flush zstd export: %w", err)
	}
	return path, f.Close()
}

// ReadExport decodes an export document, transparently decompressing zstd input.
func ReadExport(r io.Reader) ([]types.Event, error) {
	br := bufio.NewReader(r)
	magic, _ := br.Peek(4)
	var src io.Reader = br
	if len(magic) == 4 && magic[0] == 0x28 && magic[1] == 0xb5 && magic[2] == 0x2f && magic[3] == 0xfd {
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open zstd export: %w", err)
		}
		defer zr.Close()
		src = zr
	}
	var events []types.Event
	if err := json.NewDecoder(src).Decode(&events); err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}
	return events, nil
}
