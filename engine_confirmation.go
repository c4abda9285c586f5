package authcore

import (
	"context"
	"errors"

	internalflows "github.com/ofn-labs/authcore/internal/flows"
)

// Confirm consumes a confirm_account token and marks its account confirmed.
// A used, expired or unknown token returns ErrTokenNotFound.
func (e *Engine) Confirm(ctx context.Context, raw string) (*Account, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	var confirmed Account
	deps := e.confirmFlowDeps()
	deps.MarkConfirmed = func(ctx context.Context, accountID string) (internalflows.AccountRecord, error) {
		account, err := e.accounts.MarkConfirmed(ctx, accountID, e.now().UTC())
		if err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				return internalflows.AccountRecord{}, ErrAccountNotFound
			}
			return internalflows.AccountRecord{}, e.unavailable("ACCOUNT_STORE_UNAVAILABLE", err)
		}
		confirmed = account
		return toAccountRecord(account), nil
	}

	if _, err := internalflows.RunConfirm(ctx, raw, deps); err != nil {
		return nil, err
	}
	return &confirmed, nil
}

func (e *Engine) confirmFlowDeps() internalflows.ConfirmDeps {
	return internalflows.ConfirmDeps{
		ConsumeToken: func(ctx context.Context, raw string) (string, error) {
			return e.consumeToken(ctx, raw, PurposeConfirmAccount)
		},
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Metrics:   e.confirmMetrics(),
		Events:    e.confirmEvents(),
		Errors:    e.confirmErrors(),
	}
}

func (e *Engine) confirmMetrics() internalflows.ConfirmMetrics {
	return internalflows.ConfirmMetrics{
		ConfirmSuccess:   int(MetricConfirmSuccess),
		ConfirmFailure:   int(MetricConfirmFailure),
		ConfirmationSent: int(MetricConfirmationSent),
		DispatchFailure:  int(MetricDispatchFailure),
	}
}

func (e *Engine) confirmEvents() internalflows.ConfirmEvents {
	return internalflows.ConfirmEvents{
		ConfirmSuccess:      auditEventConfirmSuccess,
		ConfirmFailure:      auditEventConfirmFailure,
		ConfirmationRequest: auditEventConfirmationRequest,
		DispatchFailure:     auditEventDispatchFailure,
	}
}

func (e *Engine) confirmErrors() internalflows.ConfirmErrors {
	return internalflows.ConfirmErrors{
		EngineNotReady:   ErrEngineNotReady,
		TokenNotFound:    ErrTokenNotFound,
		AccountNotFound:  ErrAccountNotFound,
		AlreadyConfirmed: ErrAlreadyConfirmed,
		Dispatch:         ErrDispatch,
	}
}
