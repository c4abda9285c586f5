// Package limiters holds Redis-backed throttles for operations that cause
// out-of-band side effects.
//
// [RequestLimiter] caps how many instruction emails can be queued for one
// address, or from one client IP, within a fixed window.
//
// All limiters are nil-safe: calling any method on a nil receiver returns nil.
//
// # What this package must NOT do
//
//   - Import authcore or any sibling internal package.
//   - Make policy decisions beyond counting. Flow functions decide consequences.
package limiters
