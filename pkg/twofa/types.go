package twofa

import (
	"time"

	"github.com/google/uuid"

	"github.com/mediconnect/idm/pkg/backupcode"
)

// Credential is the persisted two-factor record owned by an account. It is
// created only when the user confirms enrollment with a valid code; an
// unconfirmed secret never reaches the account store (see
// sessions.PendingEnrollment for the in-transit form).
type Credential struct {
	UserID uuid.UUID `json:"user_id"`
	// Secret is the base32-encoded TOTP secret.
	Secret  string `json:"secret"`
	Enabled bool   `json:"enabled"`
	// BackupCodes holds the hashed one-time recovery codes. Regeneration
	// replaces the set wholesale, never appends.
	BackupCodes []backupcode.Hash `json:"backup_codes"`
	// LastUsedCounter is the highest TOTP time-step counter ever accepted.
	// It only moves forward; a code at or below it is a replay.
	LastUsedCounter int64 `json:"last_used_counter"`
	// Version guards concurrent updates: Update succeeds only when the
	// stored version matches, and every successful update increments it.
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	LastVerifiedAt time.Time `json:"last_verified_at"`
}

// Status is the caller-facing summary of an account's two-factor state.
type Status struct {
	Enabled              bool `json:"enabled"`
	Required             bool `json:"required"`
	BackupCodesRemaining int  `json:"backup_codes_remaining"`
}

// EnrollmentKey is returned by StartEnrollment. The secret is held as a
// pending enrollment until confirmed; the URI goes to the external QR
// renderer.
type EnrollmentKey struct {
	Secret    string    `json:"secret"`
	URI       string    `json:"uri"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserInfo is what the service needs to know about an account: role
// membership for policy decisions and an address for security notices.
type UserInfo struct {
	ID    uuid.UUID
	Email string
	Roles []string
}
