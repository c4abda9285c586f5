package authcore

import (
	"context"
	"errors"

	internalflows "github.com/ofn-labs/authcore/internal/flows"
)

// RequestPasswordReset issues a reset_password token for the account with
// this email and queues the reset instructions. An unknown email returns
// ErrAccountNotFound and queues nothing.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (*ResetAccepted, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	result, err := internalflows.RunRequestPasswordReset(ctx, email, e.resetRequestFlowDeps())
	if err != nil {
		return nil, err
	}
	return &ResetAccepted{
		AccountID: result.Account.ID,
		Job:       result.Job,
		ExpiresAt: result.ExpiresAt,
	}, nil
}

// ResetPassword sets a new password using a reset_password token. The new
// password is validated before the token is consumed, so a rejected password
// leaves the token usable. Open sessions of the account are ended.
func (e *Engine) ResetPassword(ctx context.Context, raw, newPassword, confirmation string) (*Account, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	var account Account
	deps := e.resetPasswordFlowDeps()
	deps.GetAccountByID = func(ctx context.Context, accountID string) (internalflows.AccountRecord, error) {
		found, err := e.accounts.GetAccountByID(ctx, accountID)
		if err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				return internalflows.AccountRecord{}, ErrAccountNotFound
			}
			return internalflows.AccountRecord{}, e.unavailable("ACCOUNT_STORE_UNAVAILABLE", err)
		}
		account = found
		return toAccountRecord(found), nil
	}

	result, err := internalflows.RunResetPassword(ctx, raw, newPassword, confirmation, deps)
	if err != nil {
		return nil, err
	}
	account.PasswordHash = result.PasswordHash
	return &account, nil
}

func (e *Engine) resetRequestFlowDeps() internalflows.ResetRequestDeps {
	return internalflows.ResetRequestDeps{
		NormalizeEmail:    normalizeEmail,
		GetAccountByEmail: e.accountByEmail,
		Instructions:      e.instructionDeps(PurposeResetPassword),
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Warn:      e.warn,
		Metrics:   passwordResetMetrics(),
		Events:    passwordResetEvents(),
		Errors:    passwordResetErrors(),
	}
}

func (e *Engine) resetPasswordFlowDeps() internalflows.ResetPasswordDeps {
	deps := internalflows.ResetPasswordDeps{
		ValidatePassword: e.validatePassword,
		HashPassword:     e.passwordHash.Hash,
		ConsumeToken: func(ctx context.Context, raw string) (string, error) {
			return e.consumeToken(ctx, raw, PurposeResetPassword)
		},
		GetAccountByID:     e.accountByID,
		UpdatePasswordHash: e.updatePasswordHash,
		RevokeSessions: func(ctx context.Context, accountID string) (int, error) {
			return e.sessionStore.DeleteAllForAccount(ctx, accountID)
		},
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Warn:      e.warn,
		Metrics:   passwordResetMetrics(),
		Events:    passwordResetEvents(),
		Errors:    passwordResetErrors(),
	}
	if e.rateLimiter != nil && e.config.Security.EnableLoginThrottle {
		deps.ResetLoginRate = func(ctx context.Context, email, ip string) error {
			return e.mapLimiterError(e.rateLimiter.ResetLogin(ctx, email, ip))
		}
	}
	return deps
}

func passwordResetMetrics() internalflows.PasswordResetMetrics {
	return internalflows.PasswordResetMetrics{
		PasswordResetRequest:      int(MetricPasswordResetRequest),
		PasswordResetUnknownEmail: int(MetricPasswordResetUnknownEmail),
		PasswordResetSuccess:      int(MetricPasswordResetSuccess),
		PasswordResetFailure:      int(MetricPasswordResetFailure),
		SessionInvalidated:        int(MetricSessionInvalidated),
		DispatchFailure:           int(MetricDispatchFailure),
	}
}

func passwordResetEvents() internalflows.PasswordResetEvents {
	return internalflows.PasswordResetEvents{
		PasswordResetRequest: auditEventPasswordResetRequest,
		PasswordResetUnknown: auditEventPasswordResetUnknown,
		PasswordResetConfirm: auditEventPasswordResetConfirm,
		PasswordResetFailure: auditEventPasswordResetFailure,
		SessionsRevoked:      auditEventSessionsRevoked,
		DispatchFailure:      auditEventDispatchFailure,
	}
}

func passwordResetErrors() internalflows.PasswordResetErrors {
	return internalflows.PasswordResetErrors{
		EngineNotReady:  ErrEngineNotReady,
		AccountNotFound: ErrAccountNotFound,
		TokenNotFound:   ErrTokenNotFound,
		Dispatch:        ErrDispatch,
	}
}
