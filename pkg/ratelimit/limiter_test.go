package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediconnect/idm/pkg/audit"
)

func testLockoutLimiter(t *testing.T, opts ...Option) (*LockoutLimiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewLockoutLimiter(client, opts...), mr
}

func TestLockoutLimiter_LocksAfterBudget(t *testing.T) {
	limiter, _ := testLockoutLimiter(t, WithMaxFailures(3))
	ctx := context.Background()
	userID := uuid.New()

	for i := 0; i < 2; i++ {
		limiter.RecordAttempt(ctx, userID, audit.MethodTOTP, false)
		_, err := limiter.Check(ctx, userID)
		require.NoError(t, err, "still under budget after %d failures", i+1)
	}

	limiter.RecordAttempt(ctx, userID, audit.MethodTOTP, false)

	remaining, err := limiter.Check(ctx, userID)
	assert.ErrorIs(t, err, ErrLockedOut)
	assert.Greater(t, remaining, time.Duration(0))
}

func TestLockoutLimiter_SuccessClearsCounter(t *testing.T) {
	limiter, _ := testLockoutLimiter(t, WithMaxFailures(3))
	ctx := context.Background()
	userID := uuid.New()

	limiter.RecordAttempt(ctx, userID, audit.MethodTOTP, false)
	limiter.RecordAttempt(ctx, userID, audit.MethodTOTP, false)
	limiter.RecordAttempt(ctx, userID, audit.MethodTOTP, true)

	// The earlier failures no longer count.
	limiter.RecordAttempt(ctx, userID, audit.MethodTOTP, false)
	limiter.RecordAttempt(ctx, userID, audit.MethodTOTP, false)
	_, err := limiter.Check(ctx, userID)
	assert.NoError(t, err)
}

func TestLockoutLimiter_LockoutExpires(t *testing.T) {
	limiter, mr := testLockoutLimiter(t, WithMaxFailures(1), WithLockout(time.Minute))
	ctx := context.Background()
	userID := uuid.New()

	limiter.RecordAttempt(ctx, userID, audit.MethodBackupCode, false)
	_, err := limiter.Check(ctx, userID)
	require.ErrorIs(t, err, ErrLockedOut)

	mr.FastForward(2 * time.Minute)

	_, err = limiter.Check(ctx, userID)
	assert.NoError(t, err)
}

func TestLockoutLimiter_UsersAreIndependent(t *testing.T) {
	limiter, _ := testLockoutLimiter(t, WithMaxFailures(1))
	ctx := context.Background()
	locked := uuid.New()
	other := uuid.New()

	limiter.RecordAttempt(ctx, locked, audit.MethodTOTP, false)

	_, err := limiter.Check(ctx, locked)
	assert.ErrorIs(t, err, ErrLockedOut)
	_, err = limiter.Check(ctx, other)
	assert.NoError(t, err)
}

func TestLockoutLimiter_Reset(t *testing.T) {
	limiter, _ := testLockoutLimiter(t, WithMaxFailures(1))
	ctx := context.Background()
	userID := uuid.New()

	limiter.RecordAttempt(ctx, userID, audit.MethodTOTP, false)
	_, err := limiter.Check(ctx, userID)
	require.ErrorIs(t, err, ErrLockedOut)

	require.NoError(t, limiter.Reset(ctx, userID))

	_, err = limiter.Check(ctx, userID)
	assert.NoError(t, err)
}

func TestTokenBucket_BurstThenDeny(t *testing.T) {
	tb := NewTokenBucket(3, 0.001)

	for i := 0; i < 3; i++ {
		assert.True(t, tb.Allow(), "request %d within burst", i+1)
	}
	assert.False(t, tb.Allow(), "bucket exhausted")
}

func TestKeyedBuckets_KeysAreIndependent(t *testing.T) {
	kb := NewKeyedBuckets(1, 0.001, 0)

	assert.True(t, kb.Allow("10.0.0.1"))
	assert.False(t, kb.Allow("10.0.0.1"))
	assert.True(t, kb.Allow("10.0.0.2"))
}
