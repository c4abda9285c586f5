package flows

import (
	"context"
	"errors"

	"github.com/ofn-labs/authcore/dispatch"
)

type ConfirmMetrics struct {
	ConfirmSuccess   int
	ConfirmFailure   int
	ConfirmationSent int
	DispatchFailure  int
}

type ConfirmEvents struct {
	ConfirmSuccess      string
	ConfirmFailure      string
	ConfirmationRequest string
	DispatchFailure     string
}

type ConfirmErrors struct {
	EngineNotReady   error
	TokenNotFound    error
	AccountNotFound  error
	AlreadyConfirmed error
	Dispatch         error
}

// ConfirmDeps captures confirm dependencies.
type ConfirmDeps struct {
	// ConsumeToken burns a confirm_account token and returns its account.
	ConsumeToken  func(ctx context.Context, raw string) (string, error)
	MarkConfirmed func(ctx context.Context, accountID string) (AccountRecord, error)

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics ConfirmMetrics
	Events  ConfirmEvents
	Errors  ConfirmErrors
}

// RunConfirm consumes a confirmation token and confirms its account.
// Confirming an already confirmed account succeeds.
func RunConfirm(ctx context.Context, raw string, deps ConfirmDeps) (*AccountRecord, error) {
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.ConsumeToken == nil || deps.MarkConfirmed == nil {
		return nil, deps.Errors.EngineNotReady
	}

	accountID, err := deps.ConsumeToken(ctx, raw)
	if err != nil {
		deps.MetricInc(deps.Metrics.ConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.ConfirmFailure, false, "", "", err, nil)
		return nil, err
	}

	account, err := deps.MarkConfirmed(ctx, accountID)
	if err != nil {
		// The token outlived its account.
		if errors.Is(err, deps.Errors.AccountNotFound) {
			err = deps.Errors.TokenNotFound
		}
		deps.MetricInc(deps.Metrics.ConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.ConfirmFailure, false, accountID, "", err, nil)
		return nil, err
	}

	deps.MetricInc(deps.Metrics.ConfirmSuccess)
	deps.EmitAudit(ctx, deps.Events.ConfirmSuccess, true, account.ID, "", nil, nil)
	return &account, nil
}

// ResendDeps captures resend-confirmation dependencies.
type ResendDeps struct {
	NormalizeEmail    func(string) string
	GetAccountByEmail func(context.Context, string) (AccountRecord, error)
	Instructions      InstructionDeps

	MetricInc func(int)
	EmitAudit AuditFunc
	Warn      func(string, ...any)

	Metrics ConfirmMetrics
	Events  ConfirmEvents
	Errors  ConfirmErrors
}

// RunResendConfirmation issues a fresh confirmation token for an unconfirmed
// account, retiring the previous one, and queues its delivery.
func RunResendConfirmation(ctx context.Context, email string, deps ResendDeps) (*SignupResult, error) {
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
		deps.EmitAudit(ctx, deps.Events.ConfirmationRequest, false, "", "", err, meta)
		return nil, err
	}
	if account.Confirmed {
		deps.EmitAudit(ctx, deps.Events.ConfirmationRequest, false, account.ID, "", deps.Errors.AlreadyConfirmed, meta)
		return nil, deps.Errors.AlreadyConfirmed
	}

	var handle dispatch.Handle
	if _, handle, err = sendInstructions(ctx, account, deps.Instructions, deps.Warn); err != nil {
		if errors.Is(err, deps.Errors.Dispatch) {
			deps.MetricInc(deps.Metrics.DispatchFailure)
			deps.EmitAudit(ctx, deps.Events.DispatchFailure, false, account.ID, "", err, meta)
		}
		return nil, err
	}

	deps.MetricInc(deps.Metrics.ConfirmationSent)
	deps.EmitAudit(ctx, deps.Events.ConfirmationRequest, true, account.ID, "", nil, meta)
	return &SignupResult{Account: account, Job: handle}, nil
}
