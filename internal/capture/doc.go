// Package capture owns the mutable state shared by every interceptor.
//
// A single Context is constructed at install time and threaded explicitly
// through each interceptor's setup function. It holds:
//   - the session buffer, an ordered append-only sequence of types.Event
//   - the in-flight request table that gates terminal network events
//   - the fault reporter (the page's original, unwrapped console error func)
//   - the clock and correlation id source
//
// The Controller built on top of a Context is the session control surface:
// Stop, Dump, Export, ExportFile, ExportHAR and QueryByTag.
//
// The buffer has no cap and no eviction: it grows for the lifetime of the
// session. All methods are safe for concurrent use; appends are serialized by
// one mutex because Go hosts complete requests on many goroutines.
package capture
