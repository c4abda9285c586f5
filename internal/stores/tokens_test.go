package stores

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	purposeConfirm uint8 = 1
	purposeReset   uint8 = 2
)

func newTestTokenStore(t *testing.T) (*miniredis.Miniredis, *redis.Client, *TokenStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb, NewTokenStore(rdb, "atk")
}

func digest(s string) [32]byte {
	return sha256.Sum256([]byte(s))
}

func TestTokenIssueConsumeRoundTrip(t *testing.T) {
	_, _, store := newTestTokenStore(t)
	ctx := context.Background()

	rec, replaced, err := store.Issue(ctx, "acc-1", purposeConfirm, digest("t1"), time.Hour)
	require.NoError(t, err)
	assert.False(t, replaced)
	assert.Greater(t, rec.ExpiresAt, time.Now().Unix())

	got, err := store.Consume(ctx, purposeConfirm, digest("t1"))
	require.NoError(t, err)
	assert.Equal(t, "acc-1", got.AccountID)
	assert.Equal(t, purposeConfirm, got.Purpose)
	assert.Equal(t, rec.ExpiresAt, got.ExpiresAt)

	_, err = store.Consume(ctx, purposeConfirm, digest("t1"))
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestTokenIssueReplacesPreviousLiveToken(t *testing.T) {
	_, _, store := newTestTokenStore(t)
	ctx := context.Background()

	_, _, err := store.Issue(ctx, "acc-1", purposeReset, digest("first"), time.Hour)
	require.NoError(t, err)
	_, replaced, err := store.Issue(ctx, "acc-1", purposeReset, digest("second"), time.Hour)
	require.NoError(t, err)
	assert.True(t, replaced)

	_, err = store.Consume(ctx, purposeReset, digest("first"))
	assert.ErrorIs(t, err, ErrTokenNotFound)

	got, err := store.Consume(ctx, purposeReset, digest("second"))
	require.NoError(t, err)
	assert.Equal(t, "acc-1", got.AccountID)
}

func TestTokenPurposesAndAccountsAreIndependent(t *testing.T) {
	_, _, store := newTestTokenStore(t)
	ctx := context.Background()

	_, _, err := store.Issue(ctx, "acc-1", purposeConfirm, digest("c1"), time.Hour)
	require.NoError(t, err)
	_, replaced, err := store.Issue(ctx, "acc-1", purposeReset, digest("r1"), time.Hour)
	require.NoError(t, err)
	assert.False(t, replaced)
	_, replaced, err = store.Issue(ctx, "acc-2", purposeConfirm, digest("c2"), time.Hour)
	require.NoError(t, err)
	assert.False(t, replaced)

	// wrong purpose never matches
	_, err = store.Consume(ctx, purposeReset, digest("c1"))
	assert.ErrorIs(t, err, ErrTokenNotFound)

	for _, tc := range []struct {
		purpose uint8
		value   string
		account string
	}{
		{purposeConfirm, "c1", "acc-1"},
		{purposeReset, "r1", "acc-1"},
		{purposeConfirm, "c2", "acc-2"},
	} {
		got, err := store.Consume(ctx, tc.purpose, digest(tc.value))
		require.NoError(t, err)
		assert.Equal(t, tc.account, got.AccountID)
	}
}

func TestTokenConsumeExpiredByClock(t *testing.T) {
	_, _, store := newTestTokenStore(t)
	ctx := context.Background()

	_, _, err := store.Issue(ctx, "acc-1", purposeReset, digest("t"), time.Hour)
	require.NoError(t, err)

	store.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = store.Consume(ctx, purposeReset, digest("t"))
	assert.ErrorIs(t, err, ErrTokenExpired)

	// an expired token is gone for good
	store.now = time.Now
	_, err = store.Consume(ctx, purposeReset, digest("t"))
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestTokenEvictedByTTL(t *testing.T) {
	mr, _, store := newTestTokenStore(t)
	ctx := context.Background()

	_, _, err := store.Issue(ctx, "acc-1", purposeConfirm, digest("t"), time.Minute)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	_, err = store.Consume(ctx, purposeConfirm, digest("t"))
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestTokenRevoke(t *testing.T) {
	mr, _, store := newTestTokenStore(t)
	ctx := context.Background()

	_, _, err := store.Issue(ctx, "acc-1", purposeConfirm, digest("t"), time.Hour)
	require.NoError(t, err)

	ok, err := store.Revoke(ctx, "acc-1", purposeConfirm)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, mr.Keys())

	_, err = store.Consume(ctx, purposeConfirm, digest("t"))
	assert.ErrorIs(t, err, ErrTokenNotFound)

	ok, err = store.Revoke(ctx, "acc-1", purposeConfirm)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenConsumeClearsIndex(t *testing.T) {
	mr, _, store := newTestTokenStore(t)
	ctx := context.Background()

	_, _, err := store.Issue(ctx, "acc-1", purposeReset, digest("t"), time.Hour)
	require.NoError(t, err)
	_, err = store.Consume(ctx, purposeReset, digest("t"))
	require.NoError(t, err)

	assert.Empty(t, mr.Keys())
}

func TestTokenNeverStoresRawValue(t *testing.T) {
	mr, _, store := newTestTokenStore(t)

	_, _, err := store.Issue(context.Background(), "acc-1", purposeConfirm, digest("raw-secret"), time.Hour)
	require.NoError(t, err)

	for _, k := range mr.Keys() {
		assert.NotContains(t, k, "raw-secret")
		v, err := mr.Get(k)
		require.NoError(t, err)
		assert.NotContains(t, v, "raw-secret")
	}
}

func TestTokenConcurrentConsumeHasSingleWinner(t *testing.T) {
	_, _, store := newTestTokenStore(t)
	ctx := context.Background()

	_, _, err := store.Issue(ctx, "acc-1", purposeReset, digest("race"), time.Hour)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		losers  atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Consume(ctx, purposeReset, digest("race"))
			switch err {
			case nil:
				winners.Add(1)
			case ErrTokenNotFound:
				losers.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, int32(15), losers.Load())
}

func TestTokenConcurrentIssueLeavesOneLiveToken(t *testing.T) {
	_, _, store := newTestTokenStore(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, _ = store.Issue(ctx, "acc-1", purposeConfirm, digest(fmt.Sprint(i)), time.Hour)
		}(i)
	}
	wg.Wait()

	live := 0
	for i := 0; i < n; i++ {
		if _, err := store.Consume(ctx, purposeConfirm, digest(fmt.Sprint(i))); err == nil {
			live++
		}
	}
	assert.Equal(t, 1, live)
}

func TestTokenStoreRedisDown(t *testing.T) {
	mr, _, store := newTestTokenStore(t)
	mr.Close()

	_, _, err := store.Issue(context.Background(), "acc-1", purposeConfirm, digest("t"), time.Hour)
	assert.ErrorIs(t, err, ErrTokenRedisUnavailable)
	_, err = store.Consume(context.Background(), purposeConfirm, digest("t"))
	assert.ErrorIs(t, err, ErrTokenRedisUnavailable)
}
