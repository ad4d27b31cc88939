// Package host models the page-level capabilities that pagetap observes.
//
// Each browser global becomes an explicit, replaceable value on a Window:
//   - Console: five logging funcs
//   - Events: the window event target (error, unhandledrejection, popstate, hashchange)
//   - Transport: the fetch capability, an http.RoundTripper
//   - NewXHR: the XHR constructor
//   - History: the session history and current location
//
// Interceptors decorate these values in place, keeping the original binding and
// always delegating to it. Real implementations are provided so a Go program can
// act as the page: NewConsole, NewHTTPXHR and NewMemoryHistory.
package host
