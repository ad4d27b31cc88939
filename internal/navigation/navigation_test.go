package navigation

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dev-console/pagetap/internal/capture"
	"github.com/dev-console/pagetap/internal/host"
	"github.com/dev-console/pagetap/internal/types"
)

const start = "https://app.example.com/home"

func newPage(t *testing.T) (*host.Window, *host.MemoryHistory, *capture.Controller) {
	t.Helper()
	win, err := host.NewWindow(host.WindowOptions{URL: start})
	require.NoError(t, err)
	mem, ok := win.History.(*host.MemoryHistory)
	require.True(t, ok)
	c := capture.NewController(capture.NewContext(capture.Options{}))
	Install(c.Context(), win)
	return win, mem, c
}

func hrefs(t *testing.T, c *capture.Controller) []string {
	t.Helper()
	var out []string
	for _, ev := range c.QueryByTag(types.TagNav) {
		var p types.NavPayload
		require.NoError(t, ev.Decode(&p))
		out = append(out, p.Href)
	}
	return out
}

func TestPushAndReplaceEmitResultingHref(t *testing.T) {
	t.Parallel()
	win, mem, c := newPage(t)

	require.NoError(t, win.History.PushState(map[string]int{"step": 2}, "", "/checkout?step=2"))
	assert.Equal(t, "https://app.example.com/checkout?step=2", win.Href())
	assert.Equal(t, map[string]int{"step": 2}, win.History.State())

	require.NoError(t, win.History.ReplaceState(nil, "", "#review"))
	assert.Equal(t, 2, mem.Len())

	assert.Equal(t, []string{
		"https://app.example.com/checkout?step=2",
		"https://app.example.com/checkout?step=2#review",
	}, hrefs(t, c))
}

func TestRejectedMutationEmitsNothing(t *testing.T) {
	t.Parallel()
	win, _, c := newPage(t)

	err := win.History.PushState(nil, "", "https://evil.example.net/")
	require.ErrorIs(t, err, host.ErrCrossOrigin)
	assert.Equal(t, start, win.Href())
	assert.Empty(t, hrefs(t, c))
}

func TestBrowserDrivenNavigation(t *testing.T) {
	t.Parallel()
	win, mem, c := newPage(t)
	require.NoError(t, win.History.PushState(nil, "", "/a"))
	require.NoError(t, win.History.PushState(nil, "", "/a#top"))

	mem.Back()         // popstate + hashchange
	mem.SetHash("faq") // hashchange only

	assert.Equal(t, []string{
		"https://app.example.com/a",
		"https://app.example.com/a#top",
		"https://app.example.com/a",
		"https://app.example.com/a",
		"https://app.example.com/a#faq",
	}, hrefs(t, c))
}

func TestEventTimestamps(t *testing.T) {
	t.Parallel()
	win, err := host.NewWindow(host.WindowOptions{URL: start})
	require.NoError(t, err)
	at := time.Date(2026, 10, 18, 14, 0, 0, 0, time.UTC)
	c := capture.NewController(capture.NewContext(capture.Options{Now: func() time.Time { return at }}))
	Install(c.Context(), win)

	require.NoError(t, win.History.PushState(nil, "", "/x"))

	ev := c.Dump()[0]
	var p types.NavPayload
	require.NoError(t, ev.Decode(&p))
	assert.Equal(t, at.UnixMilli(), p.Timestamp)
	assert.Equal(t, ev.Timestamp, p.Timestamp)
}

func TestEveryMutationEmitsExactlyOneMatchingEvent(t *testing.T) {
	t.Parallel()
	properties := gopter.NewProperties(nil)

	properties.Property("nav href matches location after each call", prop.ForAll(
		func(paths []int, replace []bool) bool {
			win, err := host.NewWindow(host.WindowOptions{URL: start})
			if err != nil {
				return false
			}
			c := capture.NewController(capture.NewContext(capture.Options{}))
			Install(c.Context(), win)

			for i, p := range paths {
				target := fmt.Sprintf("/p/%d", p)
				if i < len(replace) && replace[i] {
					err = win.History.ReplaceState(nil, "", target)
				} else {
					err = win.History.PushState(nil, "", target)
				}
				if err != nil {
					return false
				}
				events := c.QueryByTag(types.TagNav)
				if len(events) != i+1 {
					return false
				}
				var payload types.NavPayload
				if events[i].Decode(&payload) != nil || payload.Href != win.Href() {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
