package dispatch

import (
	"context"
	"errors"
	"time"
)

// Kind names the delivery action of a job.
type Kind string

const (
	KindConfirmationInstructions  Kind = "confirmation_instructions"
	KindResetPasswordInstructions Kind = "reset_password_instructions"
)

// Valid reports whether k is a known job kind.
func (k Kind) Valid() bool {
	switch k {
	case KindConfirmationInstructions, KindResetPasswordInstructions:
		return true
	default:
		return false
	}
}

var (
	ErrInvalidJob       = errors.New("invalid job")
	ErrQueueUnavailable = errors.New("job queue unavailable")
)

// Job is a queued unit of delivery work. Token holds the raw single-use value
// the recipient needs; it is only ever stored inside the queue.
type Job struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"kind"`
	AccountID      string    `json:"account_id"`
	Email          string    `json:"email"`
	Token          string    `json:"token"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
	EnqueuedAt     time.Time `json:"enqueued_at"`

	// payload is the queued encoding; Ack and Requeue remove it by value.
	payload string
}

// Handle identifies an enqueued job.
type Handle struct {
	ID    string
	Kind  Kind
	Shard int
}

// DeadLetter is the record kept for a job whose delivery was abandoned.
type DeadLetter struct {
	Job      Job       `json:"job"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// Deliverer performs the out-of-band notification for a job.
type Deliverer interface {
	Deliver(ctx context.Context, job Job) error
}

// DelivererFunc adapts a function to the Deliverer interface.
type DelivererFunc func(ctx context.Context, job Job) error

func (f DelivererFunc) Deliver(ctx context.Context, job Job) error {
	return f(ctx, job)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a delivery error as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
