package login

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrUserNotFound means no account matches the lookup.
var ErrUserNotFound = errors.New("user not found")

// User is the account record the login flow needs.
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Roles        []string  `json:"roles"`
}

// UserRepository is the account-store boundary for login lookups.
type UserRepository interface {
	FindByUsername(ctx context.Context, username string) (User, error)
	FindByID(ctx context.Context, userID uuid.UUID) (User, error)
}

// InMemUserRepository implements UserRepository in memory. Suitable for
// tests and demos.
type InMemUserRepository struct {
	mutex sync.RWMutex
	users map[uuid.UUID]User
}

// NewInMemUserRepository creates an empty in-memory user repository.
func NewInMemUserRepository() *InMemUserRepository {
	return &InMemUserRepository{
		users: make(map[uuid.UUID]User),
	}
}

// AddUser stores a user record.
func (r *InMemUserRepository) AddUser(user User) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.users[user.ID] = user
}

func (r *InMemUserRepository) FindByUsername(ctx context.Context, username string) (User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, user := range r.users {
		if user.Username == username {
			return user, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (r *InMemUserRepository) FindByID(ctx context.Context, userID uuid.UUID) (User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	user, ok := r.users[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}
