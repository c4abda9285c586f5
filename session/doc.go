// Package session provides Redis-backed session persistence and a compact
// binary session encoding.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Session] model. It
// does NOT sign or parse session tokens or decide who may log in; the Engine
// does.
//
// # What this package must NOT do
//
//   - Import authcore or jwt (no upward imports).
//   - Store plaintext secrets in [Session] fields.
package session
