package twofa

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mediconnect/idm/pkg/backupcode"
)

// InMemCredentialRepository implements CredentialRepository in memory.
// Suitable for tests and demos.
type InMemCredentialRepository struct {
	mutex       sync.Mutex
	credentials map[uuid.UUID]Credential
}

// NewInMemCredentialRepository creates an empty in-memory repository.
func NewInMemCredentialRepository() *InMemCredentialRepository {
	return &InMemCredentialRepository{
		credentials: make(map[uuid.UUID]Credential),
	}
}

func (r *InMemCredentialRepository) Get(ctx context.Context, userID uuid.UUID) (Credential, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	credential, ok := r.credentials[userID]
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	return cloneCredential(credential), nil
}

func (r *InMemCredentialRepository) Create(ctx context.Context, credential Credential) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.credentials[credential.UserID]; ok {
		return ErrCredentialExists
	}
	credential.Version = 1
	if credential.CreatedAt.IsZero() {
		credential.CreatedAt = time.Now().UTC()
	}
	r.credentials[credential.UserID] = cloneCredential(credential)
	return nil
}

func (r *InMemCredentialRepository) Update(ctx context.Context, credential Credential) (Credential, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stored, ok := r.credentials[credential.UserID]
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	if stored.Version != credential.Version {
		return Credential{}, ErrVersionConflict
	}

	credential.Version++
	r.credentials[credential.UserID] = cloneCredential(credential)
	return cloneCredential(credential), nil
}

func (r *InMemCredentialRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.credentials[userID]; !ok {
		return ErrCredentialNotFound
	}
	delete(r.credentials, userID)
	return nil
}

// cloneCredential deep-copies the backup code slice so callers never share
// the stored slice's backing array.
func cloneCredential(credential Credential) Credential {
	if credential.BackupCodes != nil {
		codes := make([]backupcode.Hash, len(credential.BackupCodes))
		copy(codes, credential.BackupCodes)
		credential.BackupCodes = codes
	}
	return credential
}
