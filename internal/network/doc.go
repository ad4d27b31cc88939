// Package network observes the page's two request APIs: fetch, modelled as the
// window's http.RoundTripper, and XHR instances produced by the window's
// factory.
//
// Each logical request yields one start event and at most one terminal event
// (end or error) sharing a correlation id. Terminal emission is gated through
// capture.Context.Complete, so the second of two completion signals for the
// same id is dropped.
package network
