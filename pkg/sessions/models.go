// Package sessions provides ephemeral, session-scoped storage for the login
// flow: the per-session authentication state and the pending two-factor
// enrollment held between secret generation and confirmation. Records live
// and die with their TTL; this package never owns cookies or session
// lifecycle policy.
package sessions

import (
	"time"

	"github.com/google/uuid"
)

// AuthState tracks how far a login session has progressed through the
// authentication steps.
type AuthState struct {
	SessionID         uuid.UUID `json:"session_id"`
	UserID            uuid.UUID `json:"user_id"`
	PasswordVerified  bool      `json:"password_verified"`
	TwoFactorRequired bool      `json:"two_factor_required"`
	TwoFactorVerified bool      `json:"two_factor_verified"`
	VerifiedAt        time.Time `json:"verified_at"`
}

// FullyAuthenticated reports whether the session has completed every required
// authentication step.
func (s AuthState) FullyAuthenticated() bool {
	return s.PasswordVerified && (!s.TwoFactorRequired || s.TwoFactorVerified)
}

// PendingEnrollment is a candidate TOTP secret waiting for the user to confirm
// with a first valid code. It is scoped to the authentication session, never
// the account store, and expires after a short TTL since it holds a live
// secret in transit.
type PendingEnrollment struct {
	UserID    uuid.UUID `json:"user_id"`
	Secret    string    `json:"secret"`
	URI       string    `json:"uri"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the enrollment window has closed.
func (p PendingEnrollment) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}
