package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTargetDispatchOrderAndPanicIsolation(t *testing.T) {
	t.Parallel()
	target := NewEventTarget(nil)
	var order []string
	target.AddEventListener(EventPopState, func(Event) { order = append(order, "first") })
	target.AddEventListener(EventPopState, func(Event) { panic("boom") })
	target.AddEventListener(EventPopState, func(ev Event) {
		order = append(order, "third")
		target.AddEventListener(EventPopState, func(Event) { order = append(order, "late") })
	})

	target.Dispatch(&PopStateEvent{})
	assert.Equal(t, []string{"first", "third"}, order)
	assert.Equal(t, 4, target.ListenerCount(EventPopState))

	target.Dispatch(&HashChangeEvent{})
	assert.Len(t, order, 2)
}

func TestMemoryHistoryPushReplaceTraverse(t *testing.T) {
	t.Parallel()
	events := NewEventTarget(nil)
	var pops []any
	var hashes []*HashChangeEvent
	events.AddEventListener(EventPopState, func(ev Event) { pops = append(pops, ev.(*PopStateEvent).State) })
	events.AddEventListener(EventHashChange, func(ev Event) { hashes = append(hashes, ev.(*HashChangeEvent)) })

	h, err := NewMemoryHistory("https://app.test/home", events)
	require.NoError(t, err)

	require.NoError(t, h.PushState(map[string]int{"page": 2}, "", "/list?page=2"))
	assert.Equal(t, "https://app.test/list?page=2", h.Href())
	require.NoError(t, h.ReplaceState("r", "", "#top"))
	assert.Equal(t, "https://app.test/list?page=2#top", h.Href())
	assert.Equal(t, "r", h.State())
	assert.ErrorIs(t, h.PushState(nil, "", "https://evil.test/"), ErrCrossOrigin)
	assert.Equal(t, 2, h.Len())

	h.Back()
	assert.Equal(t, "https://app.test/home", h.Href())
	require.Len(t, pops, 1)
	assert.Nil(t, pops[0])
	assert.Empty(t, hashes)

	h.Back()
	h.Go(0)
	assert.Len(t, pops, 1, "out of range traversal is ignored")

	h.SetHash("intro")
	h.SetHash("intro")
	require.Len(t, hashes, 1)
	assert.Equal(t, "https://app.test/home", hashes[0].OldURL)
	assert.Equal(t, "https://app.test/home#intro", hashes[0].NewURL)

	h.Back()
	require.Len(t, hashes, 2, "fragment-only traversal fires hashchange")
	assert.Len(t, pops, 2)
	h.Forward()
	assert.Equal(t, "https://app.test/home#intro", h.Href())

	_, err = NewMemoryHistory("/relative", nil)
	assert.Error(t, err)
}

func TestConsoleWritesPrefixedLines(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	c := NewConsole(&buf)
	c.Log("a", 1)
	c.Error("b")
	(*c.Method("debug"))("c")
	assert.Nil(t, c.Method("trace"))
	assert.Equal(t, "a 1\nERROR b\nDEBUG c\n", buf.String())
}

type stackErr struct{}

func (stackErr) Error() string { return "with stack" }
func (stackErr) Stack() string { return "at main" }

func TestErrorAccessors(t *testing.T) {
	t.Parallel()
	js := &JSError{Name: "TypeError", Message: "x is undefined", Stack: "at f (app.js:1:2)"}
	wrapped := fmt.Errorf("handler: %w", js)
	assert.Equal(t, "TypeError: x is undefined", js.Error())
	assert.Equal(t, "TypeError", ErrorName(wrapped))
	assert.Equal(t, "x is undefined", ErrorMessage(wrapped))
	assert.Equal(t, "at f (app.js:1:2)", ErrorStack(wrapped))

	plain := errors.New("plain")
	assert.Equal(t, "Error", ErrorName(plain))
	assert.Equal(t, "plain", ErrorMessage(plain))
	assert.Empty(t, ErrorStack(plain))
	assert.Equal(t, "at main", ErrorStack(stackErr{}))

	var nilJS *JSError
	wrappedNil := fmt.Errorf("handler: %w", nilJS)
	assert.Equal(t, "<nil>", nilJS.Error())
	assert.Equal(t, "Error", ErrorName(wrappedNil))
	assert.Empty(t, ErrorMessage(wrappedNil))
	assert.Empty(t, ErrorStack(wrappedNil))
}

func sendAndWait(t *testing.T, x *HTTPXHR) []string {
	t.Helper()
	var seen []string
	for _, typ := range []string{EventLoad, "error", EventAbort, EventTimeout, EventLoadEnd} {
		x.AddEventListener(typ, func(ev Event) { seen = append(seen, ev.EventType()) })
	}
	require.NoError(t, x.Send(nil))
	<-x.Done()
	return seen
}

func TestHTTPXHRLoad(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token", r.Header.Get("X-Auth"))
		w.Header().Set("Content-Type", "application/json")
		w.Header().Add("X-Multi", "a")
		w.Header().Add("X-Multi", "b")
		_, _ = w.Write([]byte(`{"n":1}`))
	}))
	defer srv.Close()

	x := NewHTTPXHR(srv.Client(), nil)
	assert.ErrorIs(t, x.SetRequestHeader("X-Auth", "token"), ErrInvalidState)
	require.NoError(t, x.Open("get", srv.URL))
	require.NoError(t, x.SetRequestHeader("X-Auth", "token"))
	x.SetResponseType("json")

	assert.Equal(t, []string{EventLoad, EventLoadEnd}, sendAndWait(t, x))
	assert.Equal(t, Done, x.ReadyState())
	assert.Equal(t, 200, x.Status())
	assert.Equal(t, "OK", x.StatusText())
	assert.Equal(t, map[string]any{"n": float64(1)}, x.Response())
	_, err := x.ResponseText()
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, "a, b", x.GetResponseHeader("X-Multi"))

	parsed := ParseRawHeaders(x.GetAllResponseHeaders())
	assert.Equal(t, "application/json", parsed["content-type"])
	assert.Equal(t, "a, b", parsed["x-multi"])
	assert.ErrorIs(t, x.Send(nil), ErrInvalidState)
}

func TestHTTPXHRFailureSignals(t *testing.T) {
	t.Parallel()

	t.Run("network error", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.NotFoundHandler())
		addr := srv.URL
		srv.Close()
		x := NewHTTPXHR(nil, nil)
		require.NoError(t, x.Open("GET", addr))
		assert.Equal(t, []string{"error", EventLoadEnd}, sendAndWait(t, x))
		assert.Zero(t, x.Status())
	})

	t.Run("abort", func(t *testing.T) {
		t.Parallel()
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		x := NewHTTPXHR(srv.Client(), nil)
		require.NoError(t, x.Open("GET", srv.URL))
		var seen []string
		x.AddEventListener(EventAbort, func(ev Event) { seen = append(seen, ev.EventType()) })
		x.AddEventListener(EventLoadEnd, func(ev Event) { seen = append(seen, ev.EventType()) })
		require.NoError(t, x.Send(nil))
		x.Abort()
		<-x.Done()
		assert.Equal(t, []string{EventAbort, EventLoadEnd}, seen)
	})
}

func TestEncodeBody(t *testing.T) {
	t.Parallel()
	r, ct, err := encodeBody("hi")
	require.NoError(t, err)
	assert.Equal(t, "text/plain;charset=UTF-8", ct)
	b, _ := io.ReadAll(r)
	assert.Equal(t, "hi", string(b))

	_, ct, err = encodeBody(map[string]string{"form": "x"})
	assert.Error(t, err)
	assert.Empty(t, ct)

	r, ct, err = encodeBody(nil)
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.Empty(t, ct)
}

func TestWindowFetchResolvesAgainstLocation(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/items", r.URL.Path)
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		_, _ = w.Write([]byte("done"))
	}))
	defer srv.Close()

	var out bytes.Buffer
	win, err := NewWindow(WindowOptions{URL: srv.URL + "/app/?testmode=1", Output: &out, Transport: srv.Client().Transport})
	require.NoError(t, err)
	assert.Equal(t, "1", win.Query().Get("testmode"))

	resp, err := win.Fetch(context.Background(), http.MethodGet, "/api/items", nil, http.Header{"X-Test": {"yes"}})
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "done", string(body))

	var got []Event
	win.Events.AddEventListener(EventError, func(ev Event) { got = append(got, ev) })
	win.Events.AddEventListener(EventUnhandledRejection, func(ev Event) { got = append(got, ev) })
	win.ReportError(&ErrorEvent{Message: "bad"})
	win.ReportRejection("nope")
	require.Len(t, got, 2)
	assert.Equal(t, "nope", got[1].(*RejectionEvent).Reason)

	win.Console.Warn("careful")
	assert.Equal(t, "WARN careful\n", out.String())
}
