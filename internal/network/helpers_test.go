package network

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dev-console/pagetap/internal/capture"
	"github.com/dev-console/pagetap/internal/types"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// steppingClock advances one millisecond per reading.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newController(t *testing.T, maxLength int) *capture.Controller {
	t.Helper()
	clock := &steppingClock{now: time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)}
	return capture.NewController(capture.NewContext(capture.Options{MaxLength: maxLength, Now: clock.Now}))
}

func records(t *testing.T, c *capture.Controller) []types.NetworkRecord {
	t.Helper()
	events := c.QueryByTag(types.TagNetwork)
	out := make([]types.NetworkRecord, len(events))
	for i, ev := range events {
		require.NoError(t, ev.Decode(&out[i]))
	}
	return out
}

// lifecycle splits the records of one request into its start and terminals.
func lifecycle(recs []types.NetworkRecord, id string) (starts, terminals []types.NetworkRecord) {
	for _, r := range recs {
		if r.ID != id {
			continue
		}
		if r.Phase == types.PhaseStart {
			starts = append(starts, r)
		} else {
			terminals = append(terminals, r)
		}
	}
	return starts, terminals
}
