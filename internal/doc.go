// Package internal holds helpers private to authcore: token and session ID
// generation, and the client IP digest stored with sessions.
//
// # Sub-packages
//
//   - audit: async audit event dispatch
//   - flows: workflow orchestration behind each Engine operation
//   - limiters: instruction request throttle
//   - rate: login attempt throttle
//   - stores: Redis store for single-use tokens
package internal
