package flows

import (
	"context"
	"errors"
	"time"
)

// SessionView is a validated session.
type SessionView struct {
	SessionID string
	AccountID string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type SessionMetrics struct {
	Logout          int
	ValidateLatency int
}

type SessionEvents struct {
	Logout string
}

type SessionErrors struct {
	EngineNotReady error
	SessionInvalid error
}

// SessionDeps captures validate and logout dependencies.
type SessionDeps struct {
	// ParseToken verifies the signed token and returns the session and
	// account it names.
	ParseToken    func(string) (sessionID, accountID string, err error)
	LoadSession   func(context.Context, string) (SessionView, error)
	DeleteSession func(context.Context, string) error

	Now       func() time.Time
	MetricInc func(int)
	Observe   func(int, time.Duration)
	EmitAudit AuditFunc

	Metrics SessionMetrics
	Events  SessionEvents
	Errors  SessionErrors
}

func (deps *SessionDeps) defaults() bool {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.Observe == nil {
		deps.Observe = func(int, time.Duration) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	return deps.ParseToken != nil && deps.LoadSession != nil && deps.DeleteSession != nil
}

// RunValidateSession resolves a session token to its live session.
func RunValidateSession(ctx context.Context, token string, deps SessionDeps) (*SessionView, error) {
	if !deps.defaults() {
		return nil, deps.Errors.EngineNotReady
	}
	start := deps.Now()
	defer func() { deps.Observe(deps.Metrics.ValidateLatency, deps.Now().Sub(start)) }()

	return resolveSession(ctx, token, deps)
}

// RunLogout deletes the session named by token. An already removed session
// reports SessionInvalid.
func RunLogout(ctx context.Context, token string, deps SessionDeps) error {
	if !deps.defaults() {
		return deps.Errors.EngineNotReady
	}

	view, err := resolveSession(ctx, token, deps)
	if err != nil {
		return err
	}
	if err := deps.DeleteSession(ctx, view.SessionID); err != nil {
		return err
	}

	deps.MetricInc(deps.Metrics.Logout)
	deps.EmitAudit(ctx, deps.Events.Logout, true, view.AccountID, view.SessionID, nil, nil)
	return nil
}

func resolveSession(ctx context.Context, token string, deps SessionDeps) (*SessionView, error) {
	if token == "" {
		return nil, deps.Errors.SessionInvalid
	}
	sid, accountID, err := deps.ParseToken(token)
	if err != nil {
		return nil, deps.Errors.SessionInvalid
	}

	view, err := deps.LoadSession(ctx, sid)
	if err != nil {
		if errors.Is(err, deps.Errors.SessionInvalid) {
			return nil, deps.Errors.SessionInvalid
		}
		return nil, err
	}
	if view.AccountID != accountID {
		return nil, deps.Errors.SessionInvalid
	}
	return &view, nil
}
