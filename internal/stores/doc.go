// Package stores provides the Redis-backed store for single-use account
// tokens (confirmation and password reset).
//
// # Design
//
// Only the SHA-256 digest of a token is persisted; it forms the record key,
// so lookups never compare secrets. Each record is a versioned binary blob
// with a TTL. A per-(account, purpose) index key names the live digest.
// Issue, Consume and Revoke are each a single Lua script: issuing retires the
// previous live token in the same step, and consuming is GET+DEL so exactly
// one concurrent caller wins.
//
// # Architecture boundaries
//
// This package owns persistence and atomicity of token records. It does NOT
// generate token values or decide what a consumed token means; the Engine
// does.
//
// # What this package must NOT do
//
//   - Import authcore or any sibling internal package.
//   - Store or log raw token values.
package stores
