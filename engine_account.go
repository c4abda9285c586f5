package authcore

import (
	"context"
	"errors"
	"strings"

	internalflows "github.com/ofn-labs/authcore/internal/flows"
)

// Signup registers an unconfirmed account and queues its confirmation
// instructions. It returns as soon as the job is queued. The email is stored
// trimmed, in the spelling given. Errors, checked in order: ErrValidation for
// the email, ErrValidation for the password length, ErrMismatch for the
// confirmation, ErrDuplicate for a taken email. A validation failure on a
// taken email joins ErrDuplicate to it. If the job cannot be queued the
// account is removed and ErrDispatch is returned.
func (e *Engine) Signup(ctx context.Context, email, password, confirmation string) (*PendingConfirmation, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	result, err := internalflows.RunSignup(ctx, email, password, confirmation, e.signupFlowDeps())
	if err != nil {
		return nil, err
	}
	return &PendingConfirmation{
		AccountID: result.Account.ID,
		Email:     result.Account.Email,
		Status:    AccountUnconfirmed,
		Job:       result.Job,
	}, nil
}

// ResendConfirmation retires the outstanding confirmation token of an
// unconfirmed account and queues fresh instructions.
func (e *Engine) ResendConfirmation(ctx context.Context, email string) (*PendingConfirmation, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	result, err := internalflows.RunResendConfirmation(ctx, email, e.resendFlowDeps())
	if err != nil {
		return nil, err
	}
	return &PendingConfirmation{
		AccountID: result.Account.ID,
		Email:     result.Account.Email,
		Status:    AccountUnconfirmed,
		Job:       result.Job,
	}, nil
}

// FindAccount looks an account up by email, ignoring case and surrounding
// space. It returns nil and no error when nothing matches.
func (e *Engine) FindAccount(ctx context.Context, email string) (*Account, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}
	account, err := e.accounts.GetAccountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, nil
		}
		return nil, e.unavailable("ACCOUNT_STORE_UNAVAILABLE", err)
	}
	return &account, nil
}

func (e *Engine) accountByEmail(ctx context.Context, email string) (internalflows.AccountRecord, error) {
	account, err := e.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return internalflows.AccountRecord{}, ErrAccountNotFound
		}
		return internalflows.AccountRecord{}, e.unavailable("ACCOUNT_STORE_UNAVAILABLE", err)
	}
	return toAccountRecord(account), nil
}

func (e *Engine) emailTaken(ctx context.Context, email string) (bool, error) {
	if !validEmail(email) {
		return false, nil
	}
	_, err := e.accounts.GetAccountByEmail(ctx, normalizeEmail(email))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrAccountNotFound):
		return false, nil
	default:
		return false, e.unavailable("ACCOUNT_STORE_UNAVAILABLE", err)
	}
}

func (e *Engine) accountByID(ctx context.Context, accountID string) (internalflows.AccountRecord, error) {
	account, err := e.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return internalflows.AccountRecord{}, ErrAccountNotFound
		}
		return internalflows.AccountRecord{}, e.unavailable("ACCOUNT_STORE_UNAVAILABLE", err)
	}
	return toAccountRecord(account), nil
}

func (e *Engine) updatePasswordHash(ctx context.Context, accountID, hash string) error {
	if err := e.accounts.UpdatePasswordHash(ctx, accountID, hash); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return e.unavailable("ACCOUNT_STORE_UNAVAILABLE", err)
	}
	return nil
}

func (e *Engine) signupFlowDeps() internalflows.SignupDeps {
	return internalflows.SignupDeps{
		NormalizeEmail: strings.TrimSpace,
		Validate:       e.validateSignup,
		HashPassword:   e.passwordHash.Hash,
		EmailTaken:     e.emailTaken,
		CreateAccount: func(ctx context.Context, email, hash string) (internalflows.AccountRecord, error) {
			account, err := e.accounts.CreateAccount(ctx, CreateAccountInput{Email: email, PasswordHash: hash})
			if err != nil {
				if errors.Is(err, ErrDuplicate) {
					return internalflows.AccountRecord{}, ErrDuplicate
				}
				return internalflows.AccountRecord{}, e.unavailable("ACCOUNT_STORE_UNAVAILABLE", err)
			}
			return toAccountRecord(account), nil
		},
		DeleteAccount: func(ctx context.Context, accountID string) error {
			return e.accounts.DeleteAccount(ctx, accountID)
		},
		Instructions: e.instructionDeps(PurposeConfirmAccount),
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Warn:      e.warn,
		Metrics: internalflows.SignupMetrics{
			SignupSuccess:           int(MetricSignupSuccess),
			SignupValidationFailure: int(MetricSignupValidationFailure),
			SignupDuplicate:         int(MetricSignupDuplicate),
			ConfirmationSent:        int(MetricConfirmationSent),
			DispatchFailure:         int(MetricDispatchFailure),
		},
		Events: internalflows.SignupEvents{
			SignupSuccess:   auditEventSignupSuccess,
			SignupFailure:   auditEventSignupFailure,
			SignupDuplicate: auditEventSignupDuplicate,
			DispatchFailure: auditEventDispatchFailure,
		},
		Errors: internalflows.SignupErrors{
			EngineNotReady: ErrEngineNotReady,
			Duplicate:      ErrDuplicate,
			Dispatch:       ErrDispatch,
		},
	}
}

func (e *Engine) resendFlowDeps() internalflows.ResendDeps {
	return internalflows.ResendDeps{
		NormalizeEmail:    normalizeEmail,
		GetAccountByEmail: e.accountByEmail,
		Instructions:      e.instructionDeps(PurposeConfirmAccount),
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Warn:      e.warn,
		Metrics:   e.confirmMetrics(),
		Events:    e.confirmEvents(),
		Errors:    e.confirmErrors(),
	}
}
