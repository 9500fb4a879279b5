package twofa

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Repository errors.
var (
	// ErrCredentialNotFound means no credential exists for the user.
	ErrCredentialNotFound = errors.New("two-factor credential not found")

	// ErrCredentialExists rejects creating a second credential for a user.
	ErrCredentialExists = errors.New("two-factor credential already exists")

	// ErrVersionConflict means a concurrent writer updated the credential
	// between read and write. Callers re-read and re-validate before retrying.
	ErrVersionConflict = errors.New("credential version conflict")
)

// CredentialRepository is the account-store boundary for two-factor
// credentials. Update is an atomic conditional write keyed on
// Credential.Version: it fails with ErrVersionConflict when the stored
// version differs, which is what makes backup-code consumption and
// last-used-counter advancement safe under concurrent verification attempts.
type CredentialRepository interface {
	Get(ctx context.Context, userID uuid.UUID) (Credential, error)
	Create(ctx context.Context, credential Credential) error
	Update(ctx context.Context, credential Credential) (Credential, error)
	Delete(ctx context.Context, userID uuid.UUID) error
}
