package authcore

import (
	"context"
	"time"
)

// HealthStatus is an on-demand backend health result.
type HealthStatus struct {
	RedisAvailable bool
	RedisLatency   time.Duration
}

// Health pings Redis. It never returns an error; an unreachable Redis is
// reported in the result.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil || e.sessionStore == nil {
		return HealthStatus{}
	}

	latency, err := e.sessionStore.Ping(ctx)
	return HealthStatus{
		RedisAvailable: err == nil,
		RedisLatency:   latency,
	}
}

// ActiveSessionCount returns the number of sessions indexed for accountID.
// Sessions that expired without a logout stay indexed until the next
// LogoutAll or password reset.
func (e *Engine) ActiveSessionCount(ctx context.Context, accountID string) (int, error) {
	if e == nil || e.sessionStore == nil {
		return 0, ErrEngineNotReady
	}
	if accountID == "" {
		return 0, ErrAccountNotFound
	}

	n, err := e.sessionStore.ActiveSessionCount(ctx, accountID)
	if err != nil {
		return 0, e.unavailable("SESSION_STORE_UNAVAILABLE", err)
	}
	return n, nil
}

// LoginAttempts returns the failed-login counter of email in the current
// throttle window. It is zero when throttling is disabled.
func (e *Engine) LoginAttempts(ctx context.Context, email string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	if e.rateLimiter == nil || email == "" {
		return 0, nil
	}

	n, err := e.rateLimiter.LoginAttempts(ctx, normalizeEmail(email))
	if err != nil {
		return 0, e.unavailable("RATE_LIMITER_UNAVAILABLE", err)
	}
	return n, nil
}
