package authcore

import (
	"errors"
	"fmt"
)

// Error kinds returned by Engine operations. Callers match them with errors.Is;
// field-level detail, when present, is carried by *FieldError.
var (
	// ErrValidation reports input that violates the password or email policy.
	ErrValidation = errors.New("validation failed")
	// ErrMismatch reports a blank or non-matching password confirmation.
	ErrMismatch = errors.New("password confirmation mismatch")
	// ErrDuplicate reports an email that is already registered.
	ErrDuplicate = errors.New("account already exists")
	// ErrInvalidCredentials is returned for both unknown emails and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountNotFound is returned by reset and resend requests for unknown emails.
	ErrAccountNotFound = errors.New("account not found")
	// ErrTokenNotFound covers unknown, consumed, expired and wrong-purpose tokens.
	ErrTokenNotFound = errors.New("token not found")
	// ErrDispatch reports that a delivery job could not be queued.
	ErrDispatch = errors.New("dispatch failed")

	ErrRateLimited      = errors.New("rate limited")
	ErrUnconfirmed      = errors.New("account unconfirmed")
	ErrAlreadyConfirmed = errors.New("account already confirmed")
	ErrSessionInvalid   = errors.New("session invalid")
	ErrUnavailable      = errors.New("backend unavailable")
	ErrEngineNotReady   = errors.New("engine not initialized")
)

// Field reasons carried by FieldError.
const (
	ReasonBlank    = "blank"
	ReasonInvalid  = "invalid"
	ReasonTooShort = "too_short"
	ReasonTooLong  = "too_long"
	ReasonMismatch = "confirmation"
)

// FieldError attaches the offending field and reason to an error kind.
type FieldError struct {
	Kind   error
	Field  string
	Reason string
	Limit  int
}

func (e *FieldError) Error() string {
	if e.Limit > 0 {
		return fmt.Sprintf("%v: %s %s (%d)", e.Kind, e.Field, e.Reason, e.Limit)
	}
	return fmt.Sprintf("%v: %s %s", e.Kind, e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error {
	return e.Kind
}

func fieldError(kind error, field, reason string, limit int) error {
	return &FieldError{Kind: kind, Field: field, Reason: reason, Limit: limit}
}

// UserMessage maps an error returned by the Engine to the fixed message the
// presentation layer renders. A duplicate email joined with a field error
// renders both, one per line. Login failures never reveal which part was wrong.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var fe *FieldError
	if errors.Is(err, ErrDuplicate) && errors.As(err, &fe) {
		return UserMessage(ErrDuplicate) + "\n" + UserMessage(fe)
	}

	if errors.As(err, &fe) {
		switch {
		case fe.Field == "email" && fe.Reason == ReasonBlank:
			return "Email can't be blank"
		case fe.Field == "email":
			return "Email is invalid"
		case fe.Reason == ReasonTooShort:
			return fmt.Sprintf("Password is too short (minimum is %d characters)", fe.Limit)
		case fe.Reason == ReasonTooLong:
			return fmt.Sprintf("Password is too long (maximum is %d characters)", fe.Limit)
		case fe.Reason == ReasonMismatch:
			return "Password confirmation doesn't match Password"
		}
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password"
	case errors.Is(err, ErrAccountNotFound):
		return "Email address not found"
	case errors.Is(err, ErrDuplicate):
		return "There's already an account for this email."
	case errors.Is(err, ErrMismatch):
		return "Password confirmation doesn't match Password"
	case errors.Is(err, ErrValidation):
		return "Password is invalid"
	case errors.Is(err, ErrTokenNotFound):
		return "Token is invalid or has expired"
	case errors.Is(err, ErrUnconfirmed):
		return "You have to confirm your email address before continuing."
	case errors.Is(err, ErrAlreadyConfirmed):
		return "Email was already confirmed, please try signing in"
	case errors.Is(err, ErrRateLimited):
		return "Too many attempts. Please try again later."
	case errors.Is(err, ErrSessionInvalid):
		return "You need to sign in or sign up before continuing."
	case errors.Is(err, ErrDispatch):
		return "We couldn't send the email right now. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}
