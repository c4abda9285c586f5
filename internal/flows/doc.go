// Package flows contains the orchestration behind every Engine operation.
//
// Each flow function (RunLogin, RunSignup, RunConfirm, etc.) accepts a typed
// dependency struct of closures and returns results without side effects
// beyond those dependencies. The Engine builds the structs once and stays
// thin; tests substitute closures directly.
//
// # Architecture boundaries
//
// Flows coordinate the account provider, token store, session store, job
// queue, rate limiter, audit dispatcher and metrics. They own none of them.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import authcore (to avoid import cycles).
//   - Perform I/O directly; all I/O goes through dependency closures.
package flows
