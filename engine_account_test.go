package authcore

import (
	"context"
	"errors"
	"testing"

	"github.com/ofn-labs/authcore/dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignupCreatesUnconfirmedAccountAndQueuesOneJob(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	pending, err := te.Signup(ctx, "test@foo.com", "test12345", "test12345")
	require.NoError(t, err)
	assert.Equal(t, AccountUnconfirmed, pending.Status)
	assert.Equal(t, "test@foo.com", pending.Email)
	assert.NotEmpty(t, pending.AccountID)

	jobs := te.queue.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, dispatch.KindConfirmationInstructions, jobs[0].Kind)
	assert.Equal(t, pending.AccountID, jobs[0].AccountID)
	assert.Equal(t, pending.Job.ID, jobs[0].ID)
	assert.NotEmpty(t, jobs[0].Token)

	stored, err := te.accounts.GetAccountByID(ctx, pending.AccountID)
	require.NoError(t, err)
	assert.NotEqual(t, "test12345", stored.PasswordHash)
	ok, err := te.passwordHash.Verify("test12345", stored.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, uint64(1), te.MetricsSnapshot().Counters[MetricSignupSuccess])
}

func TestSignupKeepsEmailSpelling(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	pending, err := te.Signup(ctx, "  Mixed@Example.COM ", "password1", "password1")
	require.NoError(t, err)
	assert.Equal(t, "Mixed@Example.COM", pending.Email)
	assert.Equal(t, "Mixed@Example.COM", te.queue.last(t).Email)

	found, err := te.FindAccount(ctx, "mixed@example.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, pending.AccountID, found.ID)
	assert.Equal(t, "Mixed@Example.COM", found.Email)
}

func TestSignupValidationOrder(t *testing.T) {
	tests := []struct {
		name         string
		email        string
		password     string
		confirmation string
		kind         error
		field        string
		reason       string
	}{
		{"blank email wins over everything", "", "x", "", ErrValidation, "email", ReasonBlank},
		{"malformed email", "not-an-email", "password1", "password1", ErrValidation, "email", ReasonInvalid},
		{"domain without dot", "a@localhost", "password1", "password1", ErrValidation, "email", ReasonInvalid},
		{"short password before confirmation", "a@b.com", "short", "", ErrValidation, "password", ReasonTooShort},
		{"long password", "a@b.com", string(make([]byte, 129)), "", ErrValidation, "password", ReasonTooLong},
		{"blank confirmation", "a@b.com", "password1", "", ErrMismatch, "password_confirmation", ReasonBlank},
		{"different confirmation", "a@b.com", "password1", "password2", ErrMismatch, "password_confirmation", ReasonMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := newTestEngine(t, nil)

			_, err := te.Signup(context.Background(), tt.email, tt.password, tt.confirmation)
			require.ErrorIs(t, err, tt.kind)

			var fe *FieldError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.field, fe.Field)
			assert.Equal(t, tt.reason, fe.Reason)

			assert.Zero(t, te.accounts.count())
			assert.Empty(t, te.queue.Jobs())
		})
	}
}

func TestSignupShortPasswordMessageCarriesMinimum(t *testing.T) {
	te := newTestEngine(t, nil)

	_, err := te.Signup(context.Background(), "a@b.com", "short", "short")
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "Password is too short (minimum is 6 characters)", UserMessage(err))
}

func TestSignupDuplicateIsCaseInsensitive(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := te.Signup(ctx, "dup@example.com", "password1", "password1")
	require.NoError(t, err)

	_, err = te.Signup(ctx, "DUP@example.com", "password2", "password2")
	require.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, "There's already an account for this email.", UserMessage(err))
	assert.Len(t, te.queue.Jobs(), 1)
	assert.Equal(t, uint64(1), te.MetricsSnapshot().Counters[MetricSignupDuplicate])
}

func TestSignupTakenEmailReportsDuplicateWithFieldError(t *testing.T) {
	tests := []struct {
		name     string
		password string
		kind     error
		message  string
	}{
		{"blank confirmation", "foobarino", ErrMismatch, "Password confirmation doesn't match Password"},
		{"short password", "short", ErrValidation, "Password is too short (minimum is 6 characters)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := newTestEngine(t, nil)
			ctx := context.Background()
			te.accounts.seed(t, te.Engine, "user@example.com", "password", AccountConfirmed)

			_, err := te.Signup(ctx, "User@example.com", tt.password, "")
			require.ErrorIs(t, err, ErrDuplicate)
			require.ErrorIs(t, err, tt.kind)

			msg := UserMessage(err)
			assert.Contains(t, msg, "There's already an account for this email.")
			assert.Contains(t, msg, tt.message)

			assert.Equal(t, 1, te.accounts.count())
			assert.Empty(t, te.queue.Jobs())
			assert.Equal(t, uint64(1), te.MetricsSnapshot().Counters[MetricSignupDuplicate])
		})
	}
}

func TestSignupFieldErrorSurvivesLookupFailure(t *testing.T) {
	te := newTestEngine(t, nil)
	te.accounts.getErr = errBoom

	_, err := te.Signup(context.Background(), "user@example.com", "password1", "")
	require.ErrorIs(t, err, ErrMismatch)
	assert.NotErrorIs(t, err, ErrDuplicate)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestSignupDispatchFailureRemovesAccountAndToken(t *testing.T) {
	te := newTestEngine(t, nil)
	te.queue.err = errBoom
	ctx := context.Background()

	_, err := te.Signup(ctx, "limbo@example.com", "password1", "password1")
	require.ErrorIs(t, err, ErrDispatch)
	assert.Equal(t, "We couldn't send the email right now. Please try again.", UserMessage(err))

	assert.Zero(t, te.accounts.count())
	assert.Equal(t, 1, te.accounts.deleteCalls)

	keys, err := te.rdb.Keys(ctx, te.config.Tokens.RedisPrefix+":*").Result()
	require.NoError(t, err)
	assert.Empty(t, keys, "no live token may outlive a failed signup")

	// The address is free again.
	te.queue.err = nil
	_, err = te.Signup(ctx, "limbo@example.com", "password1", "password1")
	require.NoError(t, err)
}

func TestSignupAccountStoreFailureIsUnavailable(t *testing.T) {
	te := newTestEngine(t, nil)
	te.accounts.createErr = errBoom

	_, err := te.Signup(context.Background(), "a@b.com", "password1", "password1")
	require.ErrorIs(t, err, ErrUnavailable)
	require.ErrorIs(t, err, errBoom)
	assert.Empty(t, te.queue.Jobs())
}

func TestResendConfirmationRetiresPreviousToken(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := te.Signup(ctx, "resend@example.com", "password1", "password1")
	require.NoError(t, err)
	first := te.queue.last(t).Token

	pending, err := te.ResendConfirmation(ctx, "Resend@Example.com")
	require.NoError(t, err)
	assert.Equal(t, AccountUnconfirmed, pending.Status)
	second := te.queue.last(t).Token
	require.NotEqual(t, first, second)

	_, err = te.Confirm(ctx, first)
	require.ErrorIs(t, err, ErrTokenNotFound)

	account, err := te.Confirm(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, AccountConfirmed, account.Status)
}

func TestResendConfirmationErrors(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := te.ResendConfirmation(ctx, "ghost@example.com")
	require.ErrorIs(t, err, ErrAccountNotFound)

	te.accounts.seed(t, te.Engine, "done@example.com", "password1", AccountConfirmed)
	_, err = te.ResendConfirmation(ctx, "done@example.com")
	require.ErrorIs(t, err, ErrAlreadyConfirmed)

	assert.Empty(t, te.queue.Jobs())
}

func TestFindAccount(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	seeded := te.accounts.seed(t, te.Engine, "found@example.com", "password1", AccountUnconfirmed)

	got, err := te.FindAccount(ctx, " FOUND@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, seeded.ID, got.ID)

	got, err = te.FindAccount(ctx, "missing@example.com")
	require.NoError(t, err)
	assert.Nil(t, got)

	te.accounts.getErr = errBoom
	_, err = te.FindAccount(ctx, "found@example.com")
	require.ErrorIs(t, err, ErrUnavailable)
}
