package authcore

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginRateLimited      = "login_rate_limited"
	auditEventLogout                = "logout"
	auditEventSignupSuccess         = "signup_success"
	auditEventSignupFailure         = "signup_failure"
	auditEventSignupDuplicate       = "signup_duplicate"
	auditEventConfirmationRequest   = "confirmation_request"
	auditEventConfirmSuccess        = "confirm_success"
	auditEventConfirmFailure        = "confirm_failure"
	auditEventPasswordResetRequest  = "password_reset_request"
	auditEventPasswordResetUnknown  = "password_reset_unknown_email"
	auditEventPasswordResetConfirm  = "password_reset_confirm"
	auditEventPasswordResetFailure  = "password_reset_failure"
	auditEventSessionsRevoked       = "sessions_revoked"
	auditEventDispatchFailure       = "dispatch_failure"
	auditEventInstructionsThrottled = "instructions_throttled"
)

// AuditErrorCode is the stable error label recorded on failed audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrUnconfirmed        AuditErrorCode = "account_unconfirmed"
	auditErrAlreadyConfirmed   AuditErrorCode = "already_confirmed"
	auditErrAccountNotFound    AuditErrorCode = "account_not_found"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrMismatch           AuditErrorCode = "confirmation_mismatch"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrDispatch           AuditErrorCode = "dispatch_failed"
	auditErrSessionInvalid     AuditErrorCode = "session_invalid"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		AccountID: accountID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrUnconfirmed):
		return auditErrUnconfirmed
	case errors.Is(err, ErrAlreadyConfirmed):
		return auditErrAlreadyConfirmed
	case errors.Is(err, ErrAccountNotFound):
		return auditErrAccountNotFound
	case errors.Is(err, ErrTokenNotFound):
		return auditErrInvalidToken
	case errors.Is(err, ErrValidation):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrMismatch):
		return auditErrMismatch
	case errors.Is(err, ErrDuplicate):
		return auditErrDuplicate
	case errors.Is(err, ErrDispatch):
		return auditErrDispatch
	case errors.Is(err, ErrSessionInvalid):
		return auditErrSessionInvalid
	case errors.Is(err, ErrUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
