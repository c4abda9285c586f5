// Package rate provides the Redis-backed login throttle.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - al:  login per-email (normalized)
//   - ali: login per-IP
//
// # What this package must NOT do
//
//   - Decide what a failed attempt is (the login flow does).
//   - Be imported outside the authcore module.
package rate
