package authcore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginSucceedsForUnconfirmedAccount(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	account := te.accounts.seed(t, te.Engine, "user@example.com", "password", AccountUnconfirmed)

	sess, err := te.Login(ctx, "user@example.com", "password")
	require.NoError(t, err)
	assert.Equal(t, account.ID, sess.AccountID)
	assert.NotEmpty(t, sess.ID)
	assert.NotEmpty(t, sess.Token)
	assert.True(t, sess.ExpiresAt.After(sess.CreatedAt))

	got, err := te.ValidateSession(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, account.ID, got.AccountID)

	snap := te.MetricsSnapshot()
	assert.Equal(t, uint64(1), snap.Counters[MetricLoginSuccess])
	assert.Equal(t, uint64(1), snap.Counters[MetricSessionCreated])
}

func TestLoginIsCaseInsensitiveOnEmail(t *testing.T) {
	te := newTestEngine(t, nil)
	te.accounts.seed(t, te.Engine, "user@example.com", "password", AccountConfirmed)

	_, err := te.Login(context.Background(), " USER@Example.com ", "password")
	require.NoError(t, err)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.accounts.seed(t, te.Engine, "user@example.com", "password", AccountConfirmed)

	_, wrongPassword := te.Login(ctx, "user@example.com", "not-the-password")
	_, unknownEmail := te.Login(ctx, "nobody@example.com", "password")
	_, blank := te.Login(ctx, "user@example.com", "")

	for _, err := range []error{wrongPassword, unknownEmail, blank} {
		require.ErrorIs(t, err, ErrInvalidCredentials)
		assert.Equal(t, ErrInvalidCredentials, err)
		assert.Equal(t, "Invalid email or password", UserMessage(err))
	}
	assert.Equal(t, uint64(3), te.MetricsSnapshot().Counters[MetricLoginFailure])
}

func TestLoginRequireConfirmed(t *testing.T) {
	te := newTestEngine(t, func(c *Config) { c.Login.RequireConfirmed = true })
	ctx := context.Background()
	te.accounts.seed(t, te.Engine, "new@example.com", "password", AccountUnconfirmed)
	te.accounts.seed(t, te.Engine, "old@example.com", "password", AccountConfirmed)

	_, err := te.Login(ctx, "new@example.com", "password")
	require.ErrorIs(t, err, ErrUnconfirmed)

	// Wrong password on an unconfirmed account still reads as bad credentials.
	_, err = te.Login(ctx, "new@example.com", "wrong-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = te.Login(ctx, "old@example.com", "password")
	require.NoError(t, err)
}

func TestLoginThrottleLocksAfterMaxAttempts(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.accounts.seed(t, te.Engine, "user@example.com", "password", AccountConfirmed)

	for i := 0; i < te.config.Security.MaxLoginAttempts; i++ {
		_, err := te.Login(ctx, "user@example.com", "wrong")
		require.ErrorIs(t, err, ErrInvalidCredentials, "attempt %d", i+1)
	}

	_, err := te.Login(ctx, "user@example.com", "password")
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, uint64(1), te.MetricsSnapshot().Counters[MetricLoginRateLimited])

	te.mr.FastForward(te.config.Security.LoginCooldown + time.Second)

	_, err = te.Login(ctx, "user@example.com", "password")
	require.NoError(t, err)
}

func TestLoginSuccessResetsThrottle(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.accounts.seed(t, te.Engine, "user@example.com", "password", AccountConfirmed)

	for i := 0; i < te.config.Security.MaxLoginAttempts-1; i++ {
		_, _ = te.Login(ctx, "user@example.com", "wrong")
	}
	_, err := te.Login(ctx, "user@example.com", "password")
	require.NoError(t, err)

	attempts, err := te.rateLimiter.LoginAttempts(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Zero(t, attempts)
}

func TestLoginThrottleDisabled(t *testing.T) {
	te := newTestEngine(t, func(c *Config) { c.Security.EnableLoginThrottle = false })
	ctx := context.Background()
	te.accounts.seed(t, te.Engine, "user@example.com", "password", AccountConfirmed)

	for i := 0; i < 10; i++ {
		_, err := te.Login(ctx, "user@example.com", "wrong")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err := te.Login(ctx, "user@example.com", "password")
	require.NoError(t, err)
}

func TestLoginUpgradesWeakHash(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	account := te.accounts.seed(t, te.Engine, "user@example.com", "password", AccountConfirmed)

	// Raise the cost after the hash was written.
	cfg := testConfig()
	cfg.Password.Time = 2
	stronger, err := New().WithConfig(cfg).WithRedis(te.rdb).WithAccountProvider(te.accounts).WithQueue(te.queue).Build()
	require.NoError(t, err)
	t.Cleanup(stronger.Close)

	_, err = stronger.Login(ctx, "user@example.com", "password")
	require.NoError(t, err)

	updated, err := te.accounts.GetAccountByID(ctx, account.ID)
	require.NoError(t, err)
	assert.NotEqual(t, account.PasswordHash, updated.PasswordHash)
	needs, err := stronger.passwordHash.NeedsUpgrade(updated.PasswordHash)
	require.NoError(t, err)
	assert.False(t, needs)
}

func TestLoginAccountStoreDownIsUnavailable(t *testing.T) {
	te := newTestEngine(t, nil)
	te.accounts.getErr = errBoom

	_, err := te.Login(context.Background(), "user@example.com", "password")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogoutEndsSession(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.accounts.seed(t, te.Engine, "user@example.com", "password", AccountConfirmed)

	sess, err := te.Login(ctx, "user@example.com", "password")
	require.NoError(t, err)

	require.NoError(t, te.Logout(ctx, sess.Token))

	_, err = te.ValidateSession(ctx, sess.Token)
	require.ErrorIs(t, err, ErrSessionInvalid)
	require.ErrorIs(t, te.Logout(ctx, sess.Token), ErrSessionInvalid)
}

func TestLogoutAllEndsEverySession(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	account := te.accounts.seed(t, te.Engine, "user@example.com", "password", AccountConfirmed)

	a, err := te.Login(ctx, "user@example.com", "password")
	require.NoError(t, err)
	b, err := te.Login(ctx, "user@example.com", "password")
	require.NoError(t, err)

	n, err := te.LogoutAll(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, s := range []*Session{a, b} {
		_, err := te.ValidateSession(ctx, s.Token)
		require.ErrorIs(t, err, ErrSessionInvalid)
	}
}

func TestValidateSessionRejectsGarbage(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.accounts.seed(t, te.Engine, "user@example.com", "password", AccountConfirmed)

	sess, err := te.Login(ctx, "user@example.com", "password")
	require.NoError(t, err)

	for _, token := range []string{"", "not-a-jwt", sess.Token + "x"} {
		_, err := te.ValidateSession(ctx, token)
		require.ErrorIs(t, err, ErrSessionInvalid, "token %q", token)
	}
}

func TestValidateSessionExpires(t *testing.T) {
	te := newTestEngine(t, func(c *Config) { c.Session.Lifetime = time.Minute })
	ctx := context.Background()
	te.accounts.seed(t, te.Engine, "user@example.com", "password", AccountConfirmed)

	sess, err := te.Login(ctx, "user@example.com", "password")
	require.NoError(t, err)

	te.mr.FastForward(2 * time.Minute)

	_, err = te.ValidateSession(ctx, sess.Token)
	require.ErrorIs(t, err, ErrSessionInvalid)
}

func TestLoginWithClientIPStoresHashNotAddress(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := WithClientIP(context.Background(), "203.0.113.7")
	te.accounts.seed(t, te.Engine, "user@example.com", "password", AccountConfirmed)

	sess, err := te.Login(ctx, "user@example.com", "password")
	require.NoError(t, err)

	stored, err := te.sessionStore.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.NotEqual(t, [32]byte{}, stored.IPHash)
	raw, err := te.rdb.Get(ctx, te.config.Session.RedisPrefix+":"+sess.ID).Bytes()
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "203.0.113.7")
}
