package authcore

import (
	"context"
	"time"

	"github.com/ofn-labs/authcore/dispatch"
	internalaudit "github.com/ofn-labs/authcore/internal/audit"
	"go.uber.org/zap"
)

// AccountStatus is the confirmation state of an account. The only transition
// is AccountUnconfirmed to AccountConfirmed.
type AccountStatus uint8

const (
	AccountUnconfirmed AccountStatus = iota
	AccountConfirmed
)

func (s AccountStatus) String() string {
	switch s {
	case AccountUnconfirmed:
		return "unconfirmed"
	case AccountConfirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// TokenPurpose scopes a single-use token to one workflow.
type TokenPurpose uint8

const (
	PurposeConfirmAccount TokenPurpose = iota + 1
	PurposeResetPassword
)

func (p TokenPurpose) String() string {
	switch p {
	case PurposeConfirmAccount:
		return "confirm_account"
	case PurposeResetPassword:
		return "reset_password"
	default:
		return "unknown"
	}
}

func (p TokenPurpose) valid() bool {
	return p == PurposeConfirmAccount || p == PurposeResetPassword
}

// Account is the credential record held by an AccountProvider. Email keeps
// the spelling given at signup; lookups are case-insensitive.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Status       AccountStatus
	CreatedAt    time.Time
	ConfirmedAt  *time.Time
}

// CreateAccountInput is what the Engine hands to AccountProvider.CreateAccount
// after validation and hashing.
type CreateAccountInput struct {
	Email        string
	PasswordHash string
}

// AccountProvider persists accounts. Implementations must treat email
// uniqueness case-insensitively and report:
//   - ErrAccountNotFound from the getters when nothing matches,
//   - ErrDuplicate from CreateAccount when the email is taken.
//
// accountstore.Store is the GORM-backed implementation.
type AccountProvider interface {
	GetAccountByEmail(ctx context.Context, email string) (Account, error)
	GetAccountByID(ctx context.Context, accountID string) (Account, error)
	CreateAccount(ctx context.Context, input CreateAccountInput) (Account, error)
	UpdatePasswordHash(ctx context.Context, accountID, passwordHash string) error
	MarkConfirmed(ctx context.Context, accountID string, at time.Time) (Account, error)
	DeleteAccount(ctx context.Context, accountID string) error
}

// JobQueue accepts delivery work. *dispatch.Queue implements it.
type JobQueue interface {
	Enqueue(ctx context.Context, job dispatch.Job) (dispatch.Handle, error)
}

// Session is the opaque reference returned by Login. Token is what the
// session transport stores; the rest is informational.
type Session struct {
	ID        string
	AccountID string
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// PendingConfirmation is the result of a successful Signup: the account
// exists, is unconfirmed, and its confirmation instructions are queued.
type PendingConfirmation struct {
	AccountID string
	Email     string
	Status    AccountStatus
	Job       dispatch.Handle
}

// ResetAccepted is the result of a successful RequestPasswordReset.
type ResetAccepted struct {
	AccountID string
	Job       dispatch.Handle
	ExpiresAt time.Time
}

// IssuedToken is a freshly issued token. Value is shown exactly once; only
// its digest is stored.
type IssuedToken struct {
	Value     string
	Purpose   TokenPurpose
	AccountID string
	ExpiresAt time.Time
}

// AuditEvent is the structured record emitted for security-relevant operations.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the Engine's dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink discards audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink forwards audit events to a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// ZapSink writes audit events to a zap logger.
type ZapSink = internalaudit.ZapSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	return internalaudit.NewZapSink(logger)
}
