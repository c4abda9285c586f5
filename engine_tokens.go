package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/ofn-labs/authcore/dispatch"
	"github.com/ofn-labs/authcore/internal"
	internalflows "github.com/ofn-labs/authcore/internal/flows"
	"github.com/ofn-labs/authcore/internal/limiters"
	"github.com/ofn-labs/authcore/internal/stores"
	"github.com/samber/oops"
)

// IssueToken creates a single-use token for accountID and purpose. Any token
// previously issued for the same pair stops working. The value is returned
// once and never stored.
func (e *Engine) IssueToken(ctx context.Context, accountID string, purpose TokenPurpose) (*IssuedToken, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	grant, err := e.issueToken(ctx, accountID, purpose)
	if err != nil {
		return nil, err
	}
	return &IssuedToken{
		Value:     grant.Value,
		Purpose:   purpose,
		AccountID: accountID,
		ExpiresAt: grant.ExpiresAt,
	}, nil
}

// ConsumeToken retires a token of the given purpose and returns the account
// it belongs to. Unknown, consumed, expired, malformed and wrong-purpose
// values all return ErrTokenNotFound. Under concurrent calls with the same
// value exactly one succeeds.
func (e *Engine) ConsumeToken(ctx context.Context, raw string, purpose TokenPurpose) (*Account, error) {
	if e == nil || e.tokens == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}
	accountID, err := e.consumeToken(ctx, raw, purpose)
	if err != nil {
		return nil, err
	}
	account, err := e.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, e.unavailable("ACCOUNT_STORE_UNAVAILABLE", err)
	}
	return &account, nil
}

func (e *Engine) tokenTTL(purpose TokenPurpose) time.Duration {
	switch purpose {
	case PurposeConfirmAccount:
		return e.config.Tokens.ConfirmTTL
	case PurposeResetPassword:
		return e.config.Tokens.ResetTTL
	default:
		return 0
	}
}

func (e *Engine) issueToken(ctx context.Context, accountID string, purpose TokenPurpose) (internalflows.TokenGrant, error) {
	if !purpose.valid() {
		return internalflows.TokenGrant{}, fieldError(ErrValidation, "purpose", ReasonInvalid, 0)
	}
	if accountID == "" {
		return internalflows.TokenGrant{}, fieldError(ErrValidation, "account_id", ReasonBlank, 0)
	}

	value, digest, err := internal.NewToken()
	if err != nil {
		return internalflows.TokenGrant{}, oops.Code("TOKEN_GENERATION_FAILED").Wrap(err)
	}

	record, replaced, err := e.tokens.Issue(ctx, accountID, uint8(purpose), digest, e.tokenTTL(purpose))
	if err != nil {
		return internalflows.TokenGrant{}, e.unavailable("TOKEN_STORE_UNAVAILABLE", err)
	}

	e.metricInc(MetricTokenIssued)
	if replaced {
		e.metricInc(MetricTokenReplaced)
	}
	return internalflows.TokenGrant{
		Value:     value,
		ExpiresAt: time.Unix(record.ExpiresAt, 0).UTC(),
	}, nil
}

func (e *Engine) consumeToken(ctx context.Context, raw string, purpose TokenPurpose) (string, error) {
	if !purpose.valid() {
		return "", ErrTokenNotFound
	}
	digest, err := internal.HashToken(raw)
	if err != nil {
		e.metricInc(MetricTokenRejected)
		return "", ErrTokenNotFound
	}

	record, err := e.tokens.Consume(ctx, uint8(purpose), digest)
	if err != nil {
		if errors.Is(err, stores.ErrTokenNotFound) || errors.Is(err, stores.ErrTokenExpired) {
			e.metricInc(MetricTokenRejected)
			return "", ErrTokenNotFound
		}
		return "", e.unavailable("TOKEN_STORE_UNAVAILABLE", err)
	}

	e.metricInc(MetricTokenConsumed)
	return record.AccountID, nil
}

func (e *Engine) revokeToken(ctx context.Context, accountID string, purpose TokenPurpose) error {
	if _, err := e.tokens.Revoke(ctx, accountID, uint8(purpose)); err != nil {
		return e.unavailable("TOKEN_STORE_UNAVAILABLE", err)
	}
	return nil
}

// instructionDeps binds token issue, revoke and delivery for one purpose.
func (e *Engine) instructionDeps(purpose TokenPurpose) internalflows.InstructionDeps {
	kind := jobKindFor(purpose)
	deps := internalflows.InstructionDeps{
		Issue: func(ctx context.Context, accountID string) (internalflows.TokenGrant, error) {
			return e.issueToken(ctx, accountID, purpose)
		},
		Revoke: func(ctx context.Context, accountID string) error {
			return e.revokeToken(ctx, accountID, purpose)
		},
		Enqueue: func(ctx context.Context, account internalflows.AccountRecord, grant internalflows.TokenGrant) (dispatch.Handle, error) {
			return e.enqueue(ctx, kind, account, grant)
		},
	}
	if e.requestLimiter != nil {
		deps.Throttle = func(ctx context.Context, account internalflows.AccountRecord) error {
			return e.throttleInstructions(ctx, kind, account)
		}
	}
	return deps
}

func (e *Engine) throttleInstructions(ctx context.Context, kind dispatch.Kind, account internalflows.AccountRecord) error {
	err := e.requestLimiter.Allow(ctx, string(kind), account.Email, clientIPFromContext(ctx))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, limiters.ErrRequestRateLimited):
		e.metricInc(MetricInstructionsThrottled)
		e.emitAudit(ctx, auditEventInstructionsThrottled, false, account.ID, "", ErrRateLimited, func() map[string]string {
			return map[string]string{"kind": string(kind)}
		})
		return ErrRateLimited
	default:
		return e.unavailable("RATE_LIMITER_UNAVAILABLE", err)
	}
}

func jobKindFor(purpose TokenPurpose) dispatch.Kind {
	if purpose == PurposeResetPassword {
		return dispatch.KindResetPasswordInstructions
	}
	return dispatch.KindConfirmationInstructions
}
