package flows

import (
	"context"
	"errors"

	"github.com/ofn-labs/authcore/dispatch"
)

// SignupResult is an account awaiting confirmation plus its queued job.
type SignupResult struct {
	Account AccountRecord
	Job     dispatch.Handle
}

type SignupMetrics struct {
	SignupSuccess           int
	SignupValidationFailure int
	SignupDuplicate         int
	ConfirmationSent        int
	DispatchFailure         int
}

type SignupEvents struct {
	SignupSuccess   string
	SignupFailure   string
	SignupDuplicate string
	DispatchFailure string
}

type SignupErrors struct {
	EngineNotReady error
	Duplicate      error
	Dispatch       error
}

// SignupDeps captures signup dependencies.
type SignupDeps struct {
	// NormalizeEmail cleans the email before it is validated and stored.
	NormalizeEmail func(string) string
	Validate       func(email, password, confirmation string) error
	HashPassword   func(string) (string, error)
	// EmailTaken, when set, lets a validation failure also report that the
	// email is already registered.
	EmailTaken func(ctx context.Context, email string) (bool, error)

	CreateAccount func(ctx context.Context, email, passwordHash string) (AccountRecord, error)
	DeleteAccount func(ctx context.Context, accountID string) error

	Instructions InstructionDeps

	MetricInc func(int)
	EmitAudit AuditFunc
	Warn      func(string, ...any)

	Metrics SignupMetrics
	Events  SignupEvents
	Errors  SignupErrors
}

// RunSignup creates an unconfirmed account and queues its confirmation
// instructions. If the job cannot be queued the account is removed again, so
// no account is left unconfirmed without a way to confirm it.
func RunSignup(ctx context.Context, email, password, confirmation string, deps SignupDeps) (*SignupResult, error) {
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
	if deps.Validate == nil ||
		deps.HashPassword == nil ||
		deps.CreateAccount == nil ||
		deps.DeleteAccount == nil ||
		!deps.Instructions.ready() {
		return nil, deps.Errors.EngineNotReady
	}

	email = deps.NormalizeEmail(email)
	meta := func() map[string]string { return map[string]string{"email": email} }

	if err := deps.Validate(email, password, confirmation); err != nil {
		if deps.EmailTaken != nil {
			taken, lookupErr := deps.EmailTaken(ctx, email)
			switch {
			case lookupErr != nil:
				deps.Warn("authcore: duplicate check after failed validation", "error", lookupErr)
			case taken:
				deps.MetricInc(deps.Metrics.SignupDuplicate)
				err = errors.Join(deps.Errors.Duplicate, err)
			}
		}
		deps.MetricInc(deps.Metrics.SignupValidationFailure)
		deps.EmitAudit(ctx, deps.Events.SignupFailure, false, "", "", err, meta)
		return nil, err
	}

	hash, err := deps.HashPassword(password)
	if err != nil {
		return nil, err
	}
	password = ""
	confirmation = ""

	account, err := deps.CreateAccount(ctx, email, hash)
	if err != nil {
		if errors.Is(err, deps.Errors.Duplicate) {
			deps.MetricInc(deps.Metrics.SignupDuplicate)
			deps.EmitAudit(ctx, deps.Events.SignupDuplicate, false, "", "", err, meta)
			return nil, err
		}
		deps.EmitAudit(ctx, deps.Events.SignupFailure, false, "", "", err, meta)
		return nil, err
	}

	_, handle, err := sendInstructions(ctx, account, deps.Instructions, deps.Warn)
	if err != nil {
		if delErr := deps.DeleteAccount(context.WithoutCancel(ctx), account.ID); delErr != nil {
			deps.Warn("authcore: signup rollback failed", "account_id", account.ID, "error", delErr)
		}
		if errors.Is(err, deps.Errors.Dispatch) {
			deps.MetricInc(deps.Metrics.DispatchFailure)
			deps.EmitAudit(ctx, deps.Events.DispatchFailure, false, account.ID, "", err, meta)
		} else {
			deps.EmitAudit(ctx, deps.Events.SignupFailure, false, account.ID, "", err, meta)
		}
		return nil, err
	}

	deps.MetricInc(deps.Metrics.SignupSuccess)
	deps.MetricInc(deps.Metrics.ConfirmationSent)
	deps.EmitAudit(ctx, deps.Events.SignupSuccess, true, account.ID, "", nil, func() map[string]string {
		return map[string]string{"email": email, "job_id": handle.ID}
	})
	return &SignupResult{Account: account, Job: handle}, nil
}
