package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemStore is a mutex-guarded in-memory Store. Suitable for tests and
// single-process deployments; expired records are dropped on read.
type InMemStore struct {
	mutex       sync.RWMutex
	authStates  map[uuid.UUID]authStateEntry
	enrollments map[uuid.UUID]PendingEnrollment
	now         func() time.Time
}

type authStateEntry struct {
	state     AuthState
	expiresAt time.Time
}

// NewInMemStore creates an empty in-memory store.
func NewInMemStore() *InMemStore {
	return &InMemStore{
		authStates:  make(map[uuid.UUID]authStateEntry),
		enrollments: make(map[uuid.UUID]PendingEnrollment),
		now:         time.Now,
	}
}

func (s *InMemStore) PutAuthState(ctx context.Context, state AuthState, ttl time.Duration) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.authStates[state.SessionID] = authStateEntry{
		state:     state,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *InMemStore) GetAuthState(ctx context.Context, sessionID uuid.UUID) (AuthState, error) {
	s.mutex.RLock()
	entry, ok := s.authStates[sessionID]
	s.mutex.RUnlock()

	if !ok || !s.now().Before(entry.expiresAt) {
		return AuthState{}, ErrNotFound
	}
	return entry.state, nil
}

func (s *InMemStore) DeleteAuthState(ctx context.Context, sessionID uuid.UUID) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.authStates, sessionID)
	return nil
}

func (s *InMemStore) PutPendingEnrollment(ctx context.Context, enrollment PendingEnrollment) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// Last writer wins: a restarted enrollment replaces the prior candidate.
	s.enrollments[enrollment.UserID] = enrollment
	return nil
}

func (s *InMemStore) GetPendingEnrollment(ctx context.Context, userID uuid.UUID) (PendingEnrollment, error) {
	s.mutex.RLock()
	enrollment, ok := s.enrollments[userID]
	s.mutex.RUnlock()

	if !ok || enrollment.Expired(s.now()) {
		return PendingEnrollment{}, ErrNotFound
	}
	return enrollment, nil
}

func (s *InMemStore) DeletePendingEnrollment(ctx context.Context, userID uuid.UUID) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.enrollments, userID)
	return nil
}
