// Package authcore is the core of an account service: credential
// verification, signup with an email-confirmation workflow, and password
// reset with deferred delivery of the instructions.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// the [AccountProvider] and [JobQueue] interfaces, and value types
// (Session, PendingConfirmation, MetricsSnapshot, etc.). Flow orchestration,
// token storage, rate limiting and audit dispatch live under internal/.
// Accounts are persisted by an AccountProvider (see package accountstore);
// sessions, single-use tokens and queued jobs live in Redis. Delivery of
// queued jobs happens out of band through the dispatch package.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its public API.
//   - Wait for delivery: Signup and RequestPasswordReset return once a job is queued.
//   - Log passwords or raw token values.
//   - Import any sub-package that re-imports authcore (no import cycles).
package authcore
