package twofa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mediconnect/idm/pkg/backupcode"
)

// PostgresCredentialRepository implements CredentialRepository using
// PostgreSQL. The conditional update carries `WHERE version = $n`, so a
// concurrent writer makes the statement match zero rows and the caller sees
// ErrVersionConflict.
//
// Expected schema:
//
//	CREATE TABLE twofa_credentials (
//	    user_id           UUID PRIMARY KEY,
//	    secret            TEXT NOT NULL,
//	    enabled           BOOLEAN NOT NULL,
//	    backup_codes      JSONB NOT NULL,
//	    last_used_counter BIGINT NOT NULL,
//	    version           BIGINT NOT NULL,
//	    created_at        TIMESTAMPTZ NOT NULL,
//	    last_verified_at  TIMESTAMPTZ NOT NULL
//	);
type PostgresCredentialRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresCredentialRepository creates a PostgreSQL-backed repository.
func NewPostgresCredentialRepository(pool *pgxpool.Pool) *PostgresCredentialRepository {
	return &PostgresCredentialRepository{
		pool: pool,
	}
}

func (r *PostgresCredentialRepository) Get(ctx context.Context, userID uuid.UUID) (Credential, error) {
	query := `
		SELECT user_id, secret, enabled, backup_codes, last_used_counter,
		       version, created_at, last_verified_at
		FROM twofa_credentials
		WHERE user_id = $1
	`

	var credential Credential
	var backupCodes []byte
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&credential.UserID,
		&credential.Secret,
		&credential.Enabled,
		&backupCodes,
		&credential.LastUsedCounter,
		&credential.Version,
		&credential.CreatedAt,
		&credential.LastVerifiedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credential{}, ErrCredentialNotFound
	}
	if err != nil {
		return Credential{}, fmt.Errorf("failed to get credential: %w", err)
	}

	if err := json.Unmarshal(backupCodes, &credential.BackupCodes); err != nil {
		return Credential{}, fmt.Errorf("failed to decode backup codes: %w", err)
	}
	return credential, nil
}

func (r *PostgresCredentialRepository) Create(ctx context.Context, credential Credential) error {
	backupCodes, err := encodeBackupCodes(credential.BackupCodes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO twofa_credentials (
			user_id, secret, enabled, backup_codes, last_used_counter,
			version, created_at, last_verified_at
		) VALUES ($1, $2, $3, $4, $5, 1, NOW(), $6)
		ON CONFLICT (user_id) DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, query,
		credential.UserID,
		credential.Secret,
		credential.Enabled,
		backupCodes,
		credential.LastUsedCounter,
		credential.LastVerifiedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCredentialExists
	}
	return nil
}

func (r *PostgresCredentialRepository) Update(ctx context.Context, credential Credential) (Credential, error) {
	backupCodes, err := encodeBackupCodes(credential.BackupCodes)
	if err != nil {
		return Credential{}, err
	}

	query := `
		UPDATE twofa_credentials
		SET secret = $2,
		    enabled = $3,
		    backup_codes = $4,
		    last_used_counter = $5,
		    last_verified_at = $6,
		    version = version + 1
		WHERE user_id = $1 AND version = $7
		RETURNING version
	`

	var version int64
	err = r.pool.QueryRow(ctx, query,
		credential.UserID,
		credential.Secret,
		credential.Enabled,
		backupCodes,
		credential.LastUsedCounter,
		credential.LastVerifiedAt,
		credential.Version,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the row is gone or a concurrent writer bumped the version.
		if _, getErr := r.Get(ctx, credential.UserID); errors.Is(getErr, ErrCredentialNotFound) {
			return Credential{}, ErrCredentialNotFound
		}
		return Credential{}, ErrVersionConflict
	}
	if err != nil {
		return Credential{}, fmt.Errorf("failed to update credential: %w", err)
	}

	credential.Version = version
	return credential, nil
}

func (r *PostgresCredentialRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM twofa_credentials WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

func encodeBackupCodes(codes []backupcode.Hash) ([]byte, error) {
	if codes == nil {
		codes = []backupcode.Hash{}
	}
	data, err := json.Marshal(codes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode backup codes: %w", err)
	}
	return data, nil
}
