package twofa

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediconnect/idm/pkg/backupcode"
)

func testRepositories(t *testing.T) map[string]CredentialRepository {
	t.Helper()

	fileRepo, err := NewFileCredentialRepository(t.TempDir())
	require.NoError(t, err)

	return map[string]CredentialRepository{
		"inmem": NewInMemCredentialRepository(),
		"file":  fileRepo,
	}
}

func testCredential() Credential {
	return Credential{
		UserID:          uuid.New(),
		Secret:          "JBSWY3DPEHPK3PXP",
		Enabled:         true,
		BackupCodes:     []backupcode.Hash{{Hash: []byte("$2a$10$fakehash")}},
		LastUsedCounter: 41152263,
		LastVerifiedAt:  time.Now().UTC(),
	}
}

func TestRepository_CreateAndGet(t *testing.T) {
	for name, repo := range testRepositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			credential := testCredential()

			require.NoError(t, repo.Create(ctx, credential))

			got, err := repo.Get(ctx, credential.UserID)
			require.NoError(t, err)
			assert.Equal(t, credential.Secret, got.Secret)
			assert.Equal(t, credential.LastUsedCounter, got.LastUsedCounter)
			assert.Equal(t, int64(1), got.Version)
			assert.False(t, got.CreatedAt.IsZero())

			// A second credential for the same user is refused.
			assert.ErrorIs(t, repo.Create(ctx, credential), ErrCredentialExists)
		})
	}
}

func TestRepository_GetMissing(t *testing.T) {
	for name, repo := range testRepositories(t) {
		t.Run(name, func(t *testing.T) {
			_, err := repo.Get(context.Background(), uuid.New())
			assert.ErrorIs(t, err, ErrCredentialNotFound)
		})
	}
}

func TestRepository_ConditionalUpdate(t *testing.T) {
	for name, repo := range testRepositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			credential := testCredential()
			require.NoError(t, repo.Create(ctx, credential))

			current, err := repo.Get(ctx, credential.UserID)
			require.NoError(t, err)

			current.LastUsedCounter++
			updated, err := repo.Update(ctx, current)
			require.NoError(t, err)
			assert.Equal(t, int64(2), updated.Version)

			// The stale copy must be rejected: its version was superseded.
			stale := current
			stale.LastUsedCounter += 10
			_, err = repo.Update(ctx, stale)
			assert.ErrorIs(t, err, ErrVersionConflict)

			// The stored record reflects only the winning write.
			got, err := repo.Get(ctx, credential.UserID)
			require.NoError(t, err)
			assert.Equal(t, current.LastUsedCounter, got.LastUsedCounter)
		})
	}
}

func TestRepository_UpdateMissing(t *testing.T) {
	for name, repo := range testRepositories(t) {
		t.Run(name, func(t *testing.T) {
			_, err := repo.Update(context.Background(), testCredential())
			assert.ErrorIs(t, err, ErrCredentialNotFound)
		})
	}
}

func TestRepository_Delete(t *testing.T) {
	for name, repo := range testRepositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			credential := testCredential()
			require.NoError(t, repo.Create(ctx, credential))

			require.NoError(t, repo.Delete(ctx, credential.UserID))
			_, err := repo.Get(ctx, credential.UserID)
			assert.ErrorIs(t, err, ErrCredentialNotFound)

			assert.ErrorIs(t, repo.Delete(ctx, credential.UserID), ErrCredentialNotFound)
		})
	}
}

func TestFileRepository_PersistsAcrossReload(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	repo, err := NewFileCredentialRepository(dir)
	require.NoError(t, err)

	credential := testCredential()
	require.NoError(t, repo.Create(ctx, credential))

	reloaded, err := NewFileCredentialRepository(dir)
	require.NoError(t, err)

	got, err := reloaded.Get(ctx, credential.UserID)
	require.NoError(t, err)
	assert.Equal(t, credential.Secret, got.Secret)
	assert.Equal(t, credential.BackupCodes, got.BackupCodes)
}
