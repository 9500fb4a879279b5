// Package twofa implements the two-factor authentication subsystem for
// MediConnect IDM: TOTP secret lifecycle, time-based code verification with
// replay protection, one-time backup-code recovery, and the enrollment and
// login-promotion state machines that compose them.
//
// # Enrollment
//
// Enrollment moves Disabled → PendingVerification → Enabled. The candidate
// secret lives only in session-scoped storage (sessions.PendingEnrollment)
// until the user proves possession with one valid code; only then is a
// Credential written to the account store, together with a freshly minted
// batch of hashed backup codes. A pending enrollment that expires or is
// cancelled leaves no residue, and starting over always replaces the prior
// candidate.
//
//	key, err := service.StartEnrollment(ctx, userID, "user@example.com")
//	// show key.URI as a QR code
//	codes, err := service.ConfirmEnrollment(ctx, userID, firstCode)
//	// codes are the plaintext backup codes, shown exactly once
//
// # Login
//
// The login service holds a password-verified session until VerifyLogin
// approves a TOTP or backup-code submission:
//
//	err := service.VerifyLogin(ctx, userID, code, false)
//
// Successful TOTP verifications advance a monotonic last-used counter so an
// observed code can never be accepted twice; backup codes are consumed
// one-time through the repository's conditional update, so concurrent
// requests presenting the same code cannot both succeed.
//
// # Management
//
// DisableTwoFactor demands the current password and a live TOTP code in the
// same request, and can be refused outright by role policy (ErrPolicyLocked).
// RegenerateBackupCodes accepts a TOTP code only and replaces the stored
// hash set wholesale.
package twofa
