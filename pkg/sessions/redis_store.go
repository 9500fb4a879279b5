package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	authStateKeyPrefix  = "idm:authstate:"
	enrollmentKeyPrefix = "idm:pending2fa:"
)

// RedisStore implements Store on Redis so the login flow survives process
// restarts and works across replicas. Records are JSON values with a server-side
// TTL; Redis expiry is the primary cleanup mechanism and the enrollment
// ExpiresAt field is still checked on read to close the window between expiry
// and eviction.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore creates a Store backed by the given Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		now:    time.Now,
	}
}

func (s *RedisStore) PutAuthState(ctx context.Context, state AuthState, ttl time.Duration) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal auth state: %w", err)
	}
	if err := s.client.Set(ctx, authStateKeyPrefix+state.SessionID.String(), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store auth state: %w", err)
	}
	return nil
}

func (s *RedisStore) GetAuthState(ctx context.Context, sessionID uuid.UUID) (AuthState, error) {
	payload, err := s.client.Get(ctx, authStateKeyPrefix+sessionID.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return AuthState{}, ErrNotFound
	}
	if err != nil {
		return AuthState{}, fmt.Errorf("failed to get auth state: %w", err)
	}

	var state AuthState
	if err := json.Unmarshal(payload, &state); err != nil {
		return AuthState{}, fmt.Errorf("failed to unmarshal auth state: %w", err)
	}
	return state, nil
}

func (s *RedisStore) DeleteAuthState(ctx context.Context, sessionID uuid.UUID) error {
	if err := s.client.Del(ctx, authStateKeyPrefix+sessionID.String()).Err(); err != nil {
		return fmt.Errorf("failed to delete auth state: %w", err)
	}
	return nil
}

func (s *RedisStore) PutPendingEnrollment(ctx context.Context, enrollment PendingEnrollment) error {
	ttl := enrollment.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("pending enrollment already expired at %s", enrollment.ExpiresAt)
	}

	payload, err := json.Marshal(enrollment)
	if err != nil {
		return fmt.Errorf("failed to marshal pending enrollment: %w", err)
	}
	// SET replaces any prior value: last writer wins.
	if err := s.client.Set(ctx, enrollmentKeyPrefix+enrollment.UserID.String(), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store pending enrollment: %w", err)
	}
	return nil
}

func (s *RedisStore) GetPendingEnrollment(ctx context.Context, userID uuid.UUID) (PendingEnrollment, error) {
	payload, err := s.client.Get(ctx, enrollmentKeyPrefix+userID.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return PendingEnrollment{}, ErrNotFound
	}
	if err != nil {
		return PendingEnrollment{}, fmt.Errorf("failed to get pending enrollment: %w", err)
	}

	var enrollment PendingEnrollment
	if err := json.Unmarshal(payload, &enrollment); err != nil {
		return PendingEnrollment{}, fmt.Errorf("failed to unmarshal pending enrollment: %w", err)
	}
	if enrollment.Expired(s.now()) {
		return PendingEnrollment{}, ErrNotFound
	}
	return enrollment, nil
}

func (s *RedisStore) DeletePendingEnrollment(ctx context.Context, userID uuid.UUID) error {
	if err := s.client.Del(ctx, enrollmentKeyPrefix+userID.String()).Err(); err != nil {
		return fmt.Errorf("failed to delete pending enrollment: %w", err)
	}
	return nil
}
