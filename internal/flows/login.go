package flows

import (
	"context"
	"errors"
	"time"
)

// LoginResult is the flow-local login response shape.
type LoginResult struct {
	AccountID string
	SessionID string
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// LoginMetrics carries metric IDs needed by the login flow.
type LoginMetrics struct {
	LoginSuccess     int
	LoginFailure     int
	LoginRateLimited int
	LoginUnconfirmed int
	SessionCreated   int
}

// LoginEvents carries audit event names used by the login flow.
type LoginEvents struct {
	LoginSuccess     string
	LoginFailure     string
	LoginRateLimited string
}

// LoginErrors carries host-level sentinel errors used by the login flow.
type LoginErrors struct {
	EngineNotReady     error
	InvalidCredentials error
	RateLimited        error
	Unconfirmed        error
	AccountNotFound    error
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	RequireConfirmed       bool
	PasswordUpgradeOnLogin bool

	ClientIPFromContext func(context.Context) string

	CheckLoginRate     func(context.Context, string, string) error
	IncrementLoginRate func(context.Context, string, string) error
	ResetLoginRate     func(context.Context, string, string) error

	GetAccountByEmail  func(context.Context, string) (AccountRecord, error)
	UpdatePasswordHash func(context.Context, string, string) error

	VerifyPassword       func(string, string) (bool, error)
	VerifyDummy          func(string)
	PasswordNeedsUpgrade func(string) (bool, error)
	HashPassword         func(string) (string, error)

	CreateSession func(context.Context, AccountRecord) (*LoginResult, error)

	MetricInc func(int)
	EmitAudit AuditFunc
	Warn      func(string, ...any)

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

// RunLogin verifies credentials and opens a session. Unknown emails and wrong
// passwords fail identically, and an unknown email still pays for one hash
// verification.
func RunLogin(ctx context.Context, email, password string, deps LoginDeps) (*LoginResult, error) {
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.Warn == nil {
		deps.Warn = noopWarn
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.VerifyDummy == nil {
		deps.VerifyDummy = func(string) {}
	}
	if deps.GetAccountByEmail == nil ||
		deps.VerifyPassword == nil ||
		deps.CreateSession == nil {
		return nil, deps.Errors.EngineNotReady
	}

	ip := deps.ClientIPFromContext(ctx)
	meta := func(reason string) func() map[string]string {
		return func() map[string]string {
			m := map[string]string{"email": email}
			if reason != "" {
				m["reason"] = reason
			}
			return m
		}
	}
	rateLimited := func(accountID string) error {
		deps.MetricInc(deps.Metrics.LoginRateLimited)
		deps.EmitAudit(ctx, deps.Events.LoginRateLimited, false, accountID, "", deps.Errors.RateLimited, meta(""))
		return deps.Errors.RateLimited
	}
	fail := func(accountID, reason string) error {
		if deps.IncrementLoginRate != nil {
			if err := deps.IncrementLoginRate(ctx, email, ip); err != nil {
				if errors.Is(err, deps.Errors.RateLimited) {
					return rateLimited(accountID)
				}
				deps.Warn("authcore: login attempt counter update failed", "error", err)
			}
		}
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, accountID, "", deps.Errors.InvalidCredentials, meta(reason))
		return deps.Errors.InvalidCredentials
	}

	if deps.CheckLoginRate != nil {
		if err := deps.CheckLoginRate(ctx, email, ip); err != nil {
			if errors.Is(err, deps.Errors.RateLimited) {
				return nil, rateLimited("")
			}
			return nil, err
		}
	}

	if email == "" || password == "" {
		deps.VerifyDummy(password)
		return nil, fail("", "blank_credentials")
	}

	account, err := deps.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, deps.Errors.AccountNotFound) {
			deps.VerifyDummy(password)
			return nil, fail("", "unknown_email")
		}
		return nil, err
	}

	ok, err := deps.VerifyPassword(password, account.PasswordHash)
	if err != nil || !ok {
		return nil, fail(account.ID, "password_mismatch")
	}

	if deps.RequireConfirmed && !account.Confirmed {
		deps.MetricInc(deps.Metrics.LoginUnconfirmed)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, account.ID, "", deps.Errors.Unconfirmed, meta("unconfirmed"))
		return nil, deps.Errors.Unconfirmed
	}

	if deps.PasswordUpgradeOnLogin && deps.PasswordNeedsUpgrade != nil && deps.HashPassword != nil && deps.UpdatePasswordHash != nil {
		if needsUpgrade, err := deps.PasswordNeedsUpgrade(account.PasswordHash); err == nil && needsUpgrade {
			if upgraded, err := deps.HashPassword(password); err == nil {
				if err := deps.UpdatePasswordHash(ctx, account.ID, upgraded); err != nil {
					deps.Warn("authcore: password hash upgrade update failed", "account_id", account.ID, "error", err)
				}
			} else {
				deps.Warn("authcore: password hash upgrade generation failed", "account_id", account.ID, "error", err)
			}
		}
	}
	password = ""

	if deps.ResetLoginRate != nil {
		if err := deps.ResetLoginRate(ctx, email, ip); err != nil {
			deps.Warn("authcore: login attempt counter reset failed", "error", err)
		}
	}

	result, err := deps.CreateSession(ctx, account)
	if err != nil {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, account.ID, "", err, meta("session_create"))
		return nil, err
	}

	deps.MetricInc(deps.Metrics.SessionCreated)
	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, account.ID, result.SessionID, nil, nil)
	return result, nil
}
