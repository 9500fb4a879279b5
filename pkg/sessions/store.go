package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a record does not exist or has expired.
var ErrNotFound = errors.New("session record not found")

// Store is the session-scoped storage consumed by the login and two-factor
// services. At most one PendingEnrollment exists per user; PutPendingEnrollment
// is last-writer-wins, so starting a new enrollment discards any prior
// candidate secret.
type Store interface {
	PutAuthState(ctx context.Context, state AuthState, ttl time.Duration) error
	GetAuthState(ctx context.Context, sessionID uuid.UUID) (AuthState, error)
	DeleteAuthState(ctx context.Context, sessionID uuid.UUID) error

	PutPendingEnrollment(ctx context.Context, enrollment PendingEnrollment) error
	GetPendingEnrollment(ctx context.Context, userID uuid.UUID) (PendingEnrollment, error)
	DeletePendingEnrollment(ctx context.Context, userID uuid.UUID) error
}
