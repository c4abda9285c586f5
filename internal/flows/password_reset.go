package flows

import (
	"context"
	"errors"
	"time"

	"github.com/ofn-labs/authcore/dispatch"
)

// ResetRequestResult reports an accepted reset request.
type ResetRequestResult struct {
	Account   AccountRecord
	Job       dispatch.Handle
	ExpiresAt time.Time
}

type PasswordResetMetrics struct {
	PasswordResetRequest      int
	PasswordResetUnknownEmail int
	PasswordResetSuccess      int
	PasswordResetFailure      int
	SessionInvalidated        int
	DispatchFailure           int
}

type PasswordResetEvents struct {
	PasswordResetRequest string
	PasswordResetUnknown string
	PasswordResetConfirm string
	PasswordResetFailure string
	SessionsRevoked      string
	DispatchFailure      string
}

type PasswordResetErrors struct {
	EngineNotReady  error
	AccountNotFound error
	TokenNotFound   error
	Dispatch        error
}

// ResetRequestDeps captures reset-request dependencies.
type ResetRequestDeps struct {
	NormalizeEmail    func(string) string
	GetAccountByEmail func(context.Context, string) (AccountRecord, error)
	Instructions      InstructionDeps

	MetricInc func(int)
	EmitAudit AuditFunc
	Warn      func(string, ...any)

	Metrics PasswordResetMetrics
	Events  PasswordResetEvents
	Errors  PasswordResetErrors
}

// RunRequestPasswordReset issues a reset token for a known email and queues
// its delivery. Unknown emails fail with AccountNotFound and queue nothing.
func RunRequestPasswordReset(ctx context.Context, email string, deps ResetRequestDeps) (*ResetRequestResult, error) {
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.Warn == nil {
		deps.Warn = noopWarn
	}
	if deps.NormalizeEmail == nil {
		deps.NormalizeEmail = func(s string) string { return s }
	}
	if deps.GetAccountByEmail == nil || !deps.Instructions.ready() {
		return nil, deps.Errors.EngineNotReady
	}

	email = deps.NormalizeEmail(email)
	meta := func() map[string]string { return map[string]string{"email": email} }

	account, err := deps.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, deps.Errors.AccountNotFound) {
			deps.MetricInc(deps.Metrics.PasswordResetUnknownEmail)
			deps.EmitAudit(ctx, deps.Events.PasswordResetUnknown, false, "", "", err, meta)
		}
		return nil, err
	}

	grant, handle, err := sendInstructions(ctx, account, deps.Instructions, deps.Warn)
	if err != nil {
		if errors.Is(err, deps.Errors.Dispatch) {
			deps.MetricInc(deps.Metrics.DispatchFailure)
			deps.EmitAudit(ctx, deps.Events.DispatchFailure, false, account.ID, "", err, meta)
		}
		return nil, err
	}

	deps.MetricInc(deps.Metrics.PasswordResetRequest)
	deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, true, account.ID, "", nil, meta)
	return &ResetRequestResult{Account: account, Job: handle, ExpiresAt: grant.ExpiresAt}, nil
}

// ResetPasswordDeps captures reset-confirm dependencies.
type ResetPasswordDeps struct {
	ValidatePassword func(password, confirmation string) error
	HashPassword     func(string) (string, error)

	// ConsumeToken burns a reset_password token and returns its account.
	ConsumeToken       func(ctx context.Context, raw string) (string, error)
	GetAccountByID     func(context.Context, string) (AccountRecord, error)
	UpdatePasswordHash func(ctx context.Context, accountID, hash string) error
	RevokeSessions     func(ctx context.Context, accountID string) (int, error)
	ResetLoginRate     func(ctx context.Context, email, ip string) error

	MetricInc func(int)
	EmitAudit AuditFunc
	Warn      func(string, ...any)

	Metrics PasswordResetMetrics
	Events  PasswordResetEvents
	Errors  PasswordResetErrors
}

// RunResetPassword validates the new password before burning the token, then
// stores the new hash and ends every open session of the account.
func RunResetPassword(ctx context.Context, raw, password, confirmation string, deps ResetPasswordDeps) (*AccountRecord, error) {
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.Warn == nil {
		deps.Warn = noopWarn
	}
	if deps.ValidatePassword == nil ||
		deps.HashPassword == nil ||
		deps.ConsumeToken == nil ||
		deps.GetAccountByID == nil ||
		deps.UpdatePasswordHash == nil {
		return nil, deps.Errors.EngineNotReady
	}

	failed := func(accountID string, err error) error {
		deps.MetricInc(deps.Metrics.PasswordResetFailure)
		deps.EmitAudit(ctx, deps.Events.PasswordResetFailure, false, accountID, "", err, nil)
		return err
	}

	if err := deps.ValidatePassword(password, confirmation); err != nil {
		return nil, failed("", err)
	}

	accountID, err := deps.ConsumeToken(ctx, raw)
	if err != nil {
		return nil, failed("", err)
	}

	account, err := deps.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, deps.Errors.AccountNotFound) {
			err = deps.Errors.TokenNotFound
		}
		return nil, failed(accountID, err)
	}

	hash, err := deps.HashPassword(password)
	if err != nil {
		return nil, failed(account.ID, err)
	}
	password = ""
	confirmation = ""

	if err := deps.UpdatePasswordHash(ctx, account.ID, hash); err != nil {
		return nil, failed(account.ID, err)
	}
	account.PasswordHash = hash

	if deps.RevokeSessions != nil {
		n, err := deps.RevokeSessions(ctx, account.ID)
		if err != nil {
			deps.Warn("authcore: session revocation after password reset failed", "account_id", account.ID, "error", err)
		} else if n > 0 {
			deps.MetricInc(deps.Metrics.SessionInvalidated)
			deps.EmitAudit(ctx, deps.Events.SessionsRevoked, true, account.ID, "", nil, func() map[string]string {
				return map[string]string{"reason": "password_reset"}
			})
		}
	}
	if deps.ResetLoginRate != nil {
		if err := deps.ResetLoginRate(ctx, account.Email, ""); err != nil {
			deps.Warn("authcore: login attempt counter reset failed", "error", err)
		}
	}

	deps.MetricInc(deps.Metrics.PasswordResetSuccess)
	deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, true, account.ID, "", nil, nil)
	return &account, nil
}
