// doc.go — Package documentation for foundational cross-cutting types.

// Package types provides the foundational, zero-dependency types for pagetap.
//
// This package contains the record shapes shared by every other package:
//   - Event, the atomic unit appended to the session buffer
//   - Console, network and navigation payloads carried by custom events
//   - Decoding helpers for reading payloads back out of a dump or export
//
// Design Principle: Zero Dependencies
// This package imports only the Go standard library. It is safe to import from
// any other package without creating circular dependencies.
//
// Architecture Layer: Foundation
//
//	Layer 1: types, serialize (zero deps)
//	Layer 2: capture, substrate, host
//	Layer 3: interceptors (console, network, navigation)
//	Layer 4: wiring (tap, cmd/pagetap)
package types
