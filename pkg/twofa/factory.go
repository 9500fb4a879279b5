package twofa

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryConfig contains configuration for creating a credential repository.
type RepositoryConfig struct {
	// Pool is required for PostgreSQL repositories.
	Pool *pgxpool.Pool
	// DataDir is required for file-based repositories.
	DataDir string
}

// NewCredentialRepository creates a credential repository for the given
// persistence type.
func NewCredentialRepository(persistenceType string, config RepositoryConfig) (CredentialRepository, error) {
	switch persistenceType {
	case "postgres", "postgresql":
		if config.Pool == nil {
			return nil, fmt.Errorf("pool required for postgres repository")
		}
		return NewPostgresCredentialRepository(config.Pool), nil
	case "file":
		if config.DataDir == "" {
			return nil, fmt.Errorf("dataDir required for file repository")
		}
		return NewFileCredentialRepository(config.DataDir)
	case "memory":
		return NewInMemCredentialRepository(), nil
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s (supported: postgres, file, memory)", persistenceType)
	}
}
