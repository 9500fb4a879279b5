// Package totp implements RFC 6238 time-based one-time passwords for the
// MediConnect IDM two-factor subsystem.
//
// The package provides:
//   - Secret generation with otpauth:// provisioning URIs for authenticator apps
//   - Code generation (HMAC-SHA1 with RFC 4226 dynamic truncation)
//   - Code verification with a configurable drift window and replay protection
//     through a monotonic last-used counter
//
// Verification compares the candidate against every counter in the drift
// window using constant-time comparison and never short-circuits on the first
// match. A code is only accepted when its counter is strictly greater than the
// highest counter accepted before, so an observed code cannot be replayed even
// inside its own validity window.
//
// # Basic Usage
//
//	key, err := totp.GenerateSecret("MediConnect", "user@example.com")
//	if err != nil {
//		return err
//	}
//	// key.URI goes to the QR renderer; key.Secret is held as a pending
//	// enrollment until the user confirms with a code.
//
//	ok, counter, err := totp.Verify(key.Secret, userCode, time.Now(), lastUsedCounter)
//	if ok {
//		// persist counter as the new last-used counter
//	}
package totp
