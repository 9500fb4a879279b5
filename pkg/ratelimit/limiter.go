// Package ratelimit throttles second-factor verification attempts. Two
// mechanisms cooperate: a Redis-backed lockout counting failed submissions
// per user (shared across instances), and an in-memory token bucket the HTTP
// layer uses for per-client request limiting.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mediconnect/idm/pkg/audit"
)

// Defaults: five failed submissions inside the window lock the user out.
const (
	DefaultMaxFailures = 5
	DefaultWindow      = 15 * time.Minute
	DefaultLockout     = 15 * time.Minute
)

const (
	failureKeyPrefix = "idm:2fa:fail:"
	lockKeyPrefix    = "idm:2fa:lock:"
)

// ErrLockedOut means the user exceeded the failure budget and must wait.
var ErrLockedOut = errors.New("too many failed verification attempts")

// LockoutLimiter counts failed verification attempts per user and locks the
// user out once the budget is spent. A successful attempt clears the
// counter. It observes outcomes through the twofa.AttemptRecorder seam.
type LockoutLimiter struct {
	client      redis.UniversalClient
	maxFailures int
	window      time.Duration
	lockout     time.Duration
}

// Option configures a LockoutLimiter.
type Option func(*LockoutLimiter)

// WithMaxFailures sets how many failures the window tolerates.
func WithMaxFailures(n int) Option {
	return func(l *LockoutLimiter) {
		l.maxFailures = n
	}
}

// WithWindow sets the failure-counting window.
func WithWindow(window time.Duration) Option {
	return func(l *LockoutLimiter) {
		l.window = window
	}
}

// WithLockout sets how long a lockout lasts.
func WithLockout(lockout time.Duration) Option {
	return func(l *LockoutLimiter) {
		l.lockout = lockout
	}
}

// NewLockoutLimiter creates a limiter backed by the given Redis client.
func NewLockoutLimiter(client redis.UniversalClient, opts ...Option) *LockoutLimiter {
	limiter := &LockoutLimiter{
		client:      client,
		maxFailures: DefaultMaxFailures,
		window:      DefaultWindow,
		lockout:     DefaultLockout,
	}
	for _, opt := range opts {
		opt(limiter)
	}
	return limiter
}

// Check reports whether the user may attempt a verification. When the user
// is locked out it returns ErrLockedOut and the remaining lockout duration.
func (l *LockoutLimiter) Check(ctx context.Context, userID uuid.UUID) (time.Duration, error) {
	ttl, err := l.client.TTL(ctx, lockKeyPrefix+userID.String()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to check lockout: %w", err)
	}
	if ttl > 0 {
		return ttl, ErrLockedOut
	}
	return 0, nil
}

// RecordAttempt implements twofa.AttemptRecorder. Failures increment the
// windowed counter and arm the lockout once the budget is spent; a success
// clears the counter. Redis errors are logged, not surfaced: the recorder
// seam is fire-and-forget.
func (l *LockoutLimiter) RecordAttempt(ctx context.Context, userID uuid.UUID, method audit.Method, success bool) {
	failureKey := failureKeyPrefix + userID.String()

	if success {
		if err := l.client.Del(ctx, failureKey).Err(); err != nil {
			slog.Error("Failed to clear failure counter", "userId", userID, "error", err)
		}
		return
	}

	count, err := l.client.Incr(ctx, failureKey).Result()
	if err != nil {
		slog.Error("Failed to count verification failure", "userId", userID, "error", err)
		return
	}
	if count == 1 {
		if err := l.client.Expire(ctx, failureKey, l.window).Err(); err != nil {
			slog.Error("Failed to expire failure counter", "userId", userID, "error", err)
		}
	}

	if count >= int64(l.maxFailures) {
		if err := l.client.Set(ctx, lockKeyPrefix+userID.String(), "1", l.lockout).Err(); err != nil {
			slog.Error("Failed to arm lockout", "userId", userID, "error", err)
			return
		}
		slog.Warn("User locked out after repeated verification failures",
			"userId", userID, "method", method, "failures", count)
	}
}

// Reset clears the failure counter and any lockout for the user. Used by
// support tooling.
func (l *LockoutLimiter) Reset(ctx context.Context, userID uuid.UUID) error {
	err := l.client.Del(ctx, failureKeyPrefix+userID.String(), lockKeyPrefix+userID.String()).Err()
	if err != nil {
		return fmt.Errorf("failed to reset limiter: %w", err)
	}
	return nil
}
