package twofa

import "errors"

// Error taxonomy. Verification failures surface as the single generic
// ErrInvalidCode regardless of the internal cause (wrong code, consumed
// backup code, replayed counter) so callers cannot distinguish failure
// reasons. ErrMalformedCode is the one pre-crypto exception: the input never
// was a code.
var (
	// ErrMalformedCode rejects input with the wrong length or charset before
	// any cryptographic work.
	ErrMalformedCode = errors.New("malformed code")

	// ErrInvalidCode is the generic verification failure.
	ErrInvalidCode = errors.New("invalid code")

	// ErrEnrollmentExpired means no pending enrollment exists for the user,
	// either because none was started or because its window closed.
	ErrEnrollmentExpired = errors.New("enrollment expired or not started")

	// ErrNotEnabled means the operation needs an enabled credential.
	ErrNotEnabled = errors.New("two-factor authentication is not enabled")

	// ErrAlreadyEnabled rejects starting enrollment over an enabled credential.
	ErrAlreadyEnabled = errors.New("two-factor authentication is already enabled")

	// ErrInvalidPassword is returned by the disable flow when the password
	// re-proof fails.
	ErrInvalidPassword = errors.New("invalid password")

	// ErrPolicyLocked is a business-rule refusal, not an authentication
	// failure: the account's role forbids disabling two-factor authentication.
	ErrPolicyLocked = errors.New("two-factor authentication is locked by policy for this account")
)
