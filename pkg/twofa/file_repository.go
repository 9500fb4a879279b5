package twofa

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileCredentialRepository implements CredentialRepository with file-based
// storage. The whole credential set is kept in memory under a mutex and
// flushed to a JSON file on every mutation, so the version check and the
// write are a single critical section.
type FileCredentialRepository struct {
	dataDir     string
	credentials map[uuid.UUID]Credential
	mutex       sync.Mutex
}

// NewFileCredentialRepository creates a file-based repository rooted at
// dataDir, loading any existing data.
func NewFileCredentialRepository(dataDir string) (*FileCredentialRepository, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	repo := &FileCredentialRepository{
		dataDir:     dataDir,
		credentials: make(map[uuid.UUID]Credential),
	}

	if err := repo.load(); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	return repo, nil
}

func (r *FileCredentialRepository) Get(ctx context.Context, userID uuid.UUID) (Credential, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	credential, ok := r.credentials[userID]
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	return cloneCredential(credential), nil
}

func (r *FileCredentialRepository) Create(ctx context.Context, credential Credential) error {
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

	if err := r.save(); err != nil {
		// Rollback
		delete(r.credentials, credential.UserID)
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

func (r *FileCredentialRepository) Update(ctx context.Context, credential Credential) (Credential, error) {
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

	if err := r.save(); err != nil {
		// Rollback
		r.credentials[credential.UserID] = stored
		return Credential{}, fmt.Errorf("failed to save: %w", err)
	}
	return cloneCredential(credential), nil
}

func (r *FileCredentialRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stored, ok := r.credentials[userID]
	if !ok {
		return ErrCredentialNotFound
	}
	delete(r.credentials, userID)

	if err := r.save(); err != nil {
		// Rollback
		r.credentials[userID] = stored
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

func (r *FileCredentialRepository) filePath() string {
	return filepath.Join(r.dataDir, "twofa_credentials.json")
}

func (r *FileCredentialRepository) load() error {
	data, err := os.ReadFile(r.filePath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var credentials []Credential
	if err := json.Unmarshal(data, &credentials); err != nil {
		return fmt.Errorf("failed to parse credential file: %w", err)
	}
	for _, credential := range credentials {
		r.credentials[credential.UserID] = credential
	}
	return nil
}

func (r *FileCredentialRepository) save() error {
	credentials := make([]Credential, 0, len(r.credentials))
	for _, credential := range r.credentials {
		credentials = append(credentials, credential)
	}

	data, err := json.MarshalIndent(credentials, "", "  ")
	if err != nil {
		return err
	}

	// Write through a temp file so a crash mid-write cannot truncate the store.
	tmp := r.filePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, r.filePath())
}
