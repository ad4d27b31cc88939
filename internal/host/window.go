// window.go — The page: the set of capabilities interceptors decorate.
package host

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// Window groups the page globals. Fields are replaced in place when an
// interceptor is installed.
type Window struct {
	Console   *Console
	Events    *EventTarget
	Transport http.RoundTripper
	NewXHR    XHRFactory
	History   History
}

// WindowOptions configures NewWindow.
type WindowOptions struct {
	URL       string            // absolute start URL
	Output    io.Writer         // console output
	Transport http.RoundTripper // defaults to http.DefaultTransport
	Logger    *slog.Logger
}

// NewWindow builds a page backed by net/http and an in-memory history.
func NewWindow(opts WindowOptions) (*Window, error) {
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	if opts.Output == nil {
		opts.Output = io.Discard
	}
	events := NewEventTarget(opts.Logger)
	history, err := NewMemoryHistory(opts.URL, events)
	if err != nil {
		return nil, err
	}
	return &Window{
		Console:   NewConsole(opts.Output),
		Events:    events,
		Transport: opts.Transport,
		NewXHR:    HTTPXHRFactory(&http.Client{Transport: opts.Transport}, opts.Logger),
		History:   history,
	}, nil
}

// Href returns the current location.
func (w *Window) Href() string {
	if w.History == nil {
		return ""
	}
	return w.History.Href()
}

// Query returns the query parameters of the current location.
func (w *Window) Query() url.Values {
	u, err := url.Parse(w.Href())
	if err != nil {
		return url.Values{}
	}
	return u.Query()
}

// Fetch issues a request through the window's current Transport, resolving
// rawURL against the current location.
func (w *Window) Fetch(ctx context.Context, method, rawURL string, body io.Reader, header http.Header) (*http.Response, error) {
	target := rawURL
	if base, err := url.Parse(w.Href()); err == nil {
		if ref, err := url.Parse(rawURL); err == nil {
			target = base.ResolveReference(ref).String()
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	for name, values := range header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	client := &http.Client{Transport: w.Transport}
	return client.Do(req)
}

// ReportError dispatches an uncaught-error signal.
func (w *Window) ReportError(ev *ErrorEvent) { w.Events.Dispatch(ev) }

// ReportRejection dispatches an unhandled-rejection signal.
func (w *Window) ReportRejection(reason any) { w.Events.Dispatch(&RejectionEvent{Reason: reason}) }
