package authcore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResetRequestsAreThrottledPerEmail(t *testing.T) {
	te := newTestEngine(t, func(c *Config) { c.Security.MaxInstructionRequests = 2 })
	ctx := context.Background()
	te.accounts.seed(t, te.Engine, "user@example.com", "password", AccountConfirmed)
	te.accounts.seed(t, te.Engine, "other@example.com", "password", AccountConfirmed)

	for i := 0; i < 2; i++ {
		_, err := te.RequestPasswordReset(ctx, "user@example.com")
		require.NoError(t, err, "request %d", i+1)
	}
	live := te.queue.last(t).Token

	_, err := te.RequestPasswordReset(ctx, "user@example.com")
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, "Too many attempts. Please try again later.", UserMessage(err))
	assert.Len(t, te.queue.Jobs(), 2)
	assert.Equal(t, uint64(1), te.MetricsSnapshot().Counters[MetricInstructionsThrottled])

	// a refused request leaves the live token alone
	_, err = te.ConsumeToken(ctx, live, PurposeResetPassword)
	require.NoError(t, err)

	_, err = te.RequestPasswordReset(ctx, "other@example.com")
	require.NoError(t, err)

	te.mr.FastForward(te.config.Security.InstructionRequestWindow + time.Second)
	_, err = te.RequestPasswordReset(ctx, "user@example.com")
	require.NoError(t, err)
}

func TestResendCountsSignupAgainstBudget(t *testing.T) {
	te := newTestEngine(t, func(c *Config) { c.Security.MaxInstructionRequests = 2 })
	ctx := context.Background()

	_, err := te.Signup(ctx, "test@foo.com", "test12345", "test12345")
	require.NoError(t, err)
	_, err = te.ResendConfirmation(ctx, "test@foo.com")
	require.NoError(t, err)

	_, err = te.ResendConfirmation(ctx, "test@foo.com")
	require.ErrorIs(t, err, ErrRateLimited)

	// reset has its own budget
	_, err = te.RequestPasswordReset(ctx, "test@foo.com")
	require.NoError(t, err)
}

func TestRequestThrottleByIP(t *testing.T) {
	te := newTestEngine(t, func(c *Config) {
		c.Security.EnableIPThrottle = true
		c.Security.MaxInstructionRequests = 2
	})
	ctx := WithClientIP(context.Background(), "10.0.0.1")
	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		te.accounts.seed(t, te.Engine, email, "password", AccountConfirmed)
	}

	_, err := te.RequestPasswordReset(ctx, "a@example.com")
	require.NoError(t, err)
	_, err = te.RequestPasswordReset(ctx, "b@example.com")
	require.NoError(t, err)
	_, err = te.RequestPasswordReset(ctx, "c@example.com")
	require.ErrorIs(t, err, ErrRateLimited)

	_, err = te.RequestPasswordReset(WithClientIP(context.Background(), "10.0.0.2"), "c@example.com")
	require.NoError(t, err)
}

func TestRequestThrottleDisabled(t *testing.T) {
	te := newTestEngine(t, func(c *Config) { c.Security.EnableRequestThrottle = false })
	ctx := context.Background()
	te.accounts.seed(t, te.Engine, "user@example.com", "password", AccountConfirmed)

	for i := 0; i < 10; i++ {
		_, err := te.RequestPasswordReset(ctx, "user@example.com")
		require.NoError(t, err)
	}
	assert.Len(t, te.queue.Jobs(), 10)
}

func TestRequestThrottleRedisDownIsUnavailable(t *testing.T) {
	te := newTestEngine(t, nil)
	te.accounts.seed(t, te.Engine, "user@example.com", "password", AccountConfirmed)
	require.NoError(t, te.rdb.Close())

	_, err := te.RequestPasswordReset(context.Background(), "user@example.com")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Empty(t, te.queue.Jobs())
}
