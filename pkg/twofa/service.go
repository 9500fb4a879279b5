package twofa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mediconnect/idm/pkg/audit"
	"github.com/mediconnect/idm/pkg/backupcode"
	"github.com/mediconnect/idm/pkg/notification"
	"github.com/mediconnect/idm/pkg/sessions"
	"github.com/mediconnect/idm/pkg/totp"
)

const (
	// DefaultIssuer appears in provisioning URIs and authenticator apps.
	DefaultIssuer = "MediConnect"

	// DefaultEnrollmentTTL bounds how long a pending enrollment holds a live
	// secret in transit. Minutes, not hours.
	DefaultEnrollmentTTL = 5 * time.Minute

	// casRetryLimit bounds conditional-update retries under contention. Each
	// retry re-reads and re-validates, so losing a race with the same code
	// fails rather than double-consuming.
	casRetryLimit = 3
)

// UserDirectory resolves account information the service needs: roles for
// policy decisions and an email address for security notices.
type UserDirectory interface {
	GetUser(ctx context.Context, userID uuid.UUID) (UserInfo, error)
}

// PasswordVerifier is the external password collaborator, re-invoked only
// during the disable flow.
type PasswordVerifier interface {
	VerifyPassword(ctx context.Context, userID uuid.UUID, password string) (bool, error)
}

// AttemptRecorder is told the outcome of every verification attempt so an
// external rate limiter or lockout policy can act on it. The service itself
// never throttles.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, userID uuid.UUID, method audit.Method, success bool)
}

// TwoFactorService is the boundary of the two-factor subsystem.
type TwoFactorService interface {
	StartEnrollment(ctx context.Context, userID uuid.UUID, accountLabel string) (EnrollmentKey, error)
	ConfirmEnrollment(ctx context.Context, userID uuid.UUID, code string) ([]string, error)
	VerifyLogin(ctx context.Context, userID uuid.UUID, code string, isBackupCode bool) error
	DisableTwoFactor(ctx context.Context, userID uuid.UUID, password, code string) error
	RegenerateBackupCodes(ctx context.Context, userID uuid.UUID, code string) ([]string, error)
	GetStatus(ctx context.Context, userID uuid.UUID) (Status, error)
}

// TwoFaService implements TwoFactorService over a credential repository and a
// session-scoped enrollment store.
type TwoFaService struct {
	repo        CredentialRepository
	store       sessions.Store
	users       UserDirectory
	passwords   PasswordVerifier
	attempts    AttemptRecorder
	auditor     audit.Recorder
	notifier    notification.Notifier
	policy      DisablePolicy
	issuer      string
	enrollTTL   time.Duration
	backupCount int
	now         func() time.Time
}

// Option configures a TwoFaService.
type Option func(*TwoFaService)

// WithIssuer sets the issuer embedded in provisioning URIs.
func WithIssuer(issuer string) Option {
	return func(s *TwoFaService) {
		s.issuer = issuer
	}
}

// WithEnrollmentTTL sets how long a pending enrollment stays confirmable.
func WithEnrollmentTTL(ttl time.Duration) Option {
	return func(s *TwoFaService) {
		s.enrollTTL = ttl
	}
}

// WithBackupCodeCount sets how many recovery codes a batch contains.
func WithBackupCodeCount(n int) Option {
	return func(s *TwoFaService) {
		s.backupCount = n
	}
}

// WithPasswordVerifier sets the password collaborator used by the disable flow.
func WithPasswordVerifier(verifier PasswordVerifier) Option {
	return func(s *TwoFaService) {
		s.passwords = verifier
	}
}

// WithAttemptRecorder sets the rate-limit observer.
func WithAttemptRecorder(recorder AttemptRecorder) Option {
	return func(s *TwoFaService) {
		s.attempts = recorder
	}
}

// WithAuditRecorder sets the audit recorder.
func WithAuditRecorder(recorder audit.Recorder) Option {
	return func(s *TwoFaService) {
		s.auditor = recorder
	}
}

// WithNotifier sets the security-notice sender.
func WithNotifier(notifier notification.Notifier) Option {
	return func(s *TwoFaService) {
		s.notifier = notifier
	}
}

// WithDisablePolicy sets the per-role disable policy.
func WithDisablePolicy(policy DisablePolicy) Option {
	return func(s *TwoFaService) {
		s.policy = policy
	}
}

// WithClock overrides the time source. Tests use this to pin time steps.
func WithClock(now func() time.Time) Option {
	return func(s *TwoFaService) {
		s.now = now
	}
}

// NewTwoFaService creates the two-factor service.
func NewTwoFaService(repo CredentialRepository, store sessions.Store, users UserDirectory, opts ...Option) *TwoFaService {
	s := &TwoFaService{
		repo:        repo,
		store:       store,
		users:       users,
		auditor:     audit.NoopRecorder{},
		notifier:    notification.NoopNotifier{},
		issuer:      DefaultIssuer,
		enrollTTL:   DefaultEnrollmentTTL,
		backupCount: backupcode.DefaultCount,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartEnrollment generates a fresh secret for the user and parks it as a
// pending enrollment. Starting again before confirming replaces the prior
// candidate: only the newest secret will ever confirm.
func (s *TwoFaService) StartEnrollment(ctx context.Context, userID uuid.UUID, accountLabel string) (EnrollmentKey, error) {
	credential, err := s.repo.Get(ctx, userID)
	if err != nil && !errors.Is(err, ErrCredentialNotFound) {
		return EnrollmentKey{}, fmt.Errorf("failed to check existing credential: %w", err)
	}
	if err == nil && credential.Enabled {
		return EnrollmentKey{}, ErrAlreadyEnabled
	}

	if accountLabel == "" {
		user, err := s.users.GetUser(ctx, userID)
		if err != nil {
			return EnrollmentKey{}, fmt.Errorf("failed to resolve account label: %w", err)
		}
		accountLabel = user.Email
	}

	key, err := totp.GenerateSecret(s.issuer, accountLabel)
	if err != nil {
		return EnrollmentKey{}, err
	}

	expiresAt := s.now().Add(s.enrollTTL)
	err = s.store.PutPendingEnrollment(ctx, sessions.PendingEnrollment{
		UserID:    userID,
		Secret:    key.Secret,
		URI:       key.URI,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return EnrollmentKey{}, fmt.Errorf("failed to store pending enrollment: %w", err)
	}

	s.auditor.Record(ctx, audit.Record{Event: audit.EventEnrollmentStarted, UserID: userID, Success: true})
	slog.Info("Started 2FA enrollment", "userId", userID)

	return EnrollmentKey{Secret: key.Secret, URI: key.URI, ExpiresAt: expiresAt}, nil
}

// CancelEnrollment discards a pending enrollment early. Abandoned enrollments
// expire on their own; this just closes the window sooner.
func (s *TwoFaService) CancelEnrollment(ctx context.Context, userID uuid.UUID) error {
	return s.store.DeletePendingEnrollment(ctx, userID)
}

// ConfirmEnrollment validates the first code against the pending secret and,
// on success, persists the credential as enabled and mints the recovery
// codes. The plaintext codes are returned exactly once.
func (s *TwoFaService) ConfirmEnrollment(ctx context.Context, userID uuid.UUID, code string) ([]string, error) {
	pending, err := s.store.GetPendingEnrollment(ctx, userID)
	if errors.Is(err, sessions.ErrNotFound) {
		return nil, ErrEnrollmentExpired
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending enrollment: %w", err)
	}

	now := s.now()
	ok, counter, err := totp.Verify(pending.Secret, code, now, 0)
	if errors.Is(err, totp.ErrMalformedCode) {
		return nil, ErrMalformedCode
	}
	if err != nil {
		return nil, fmt.Errorf("failed to verify code: %w", err)
	}
	if !ok {
		s.recordAttempt(ctx, userID, audit.MethodTOTP, false)
		return nil, ErrInvalidCode
	}

	plaintext, err := backupcode.Generate(s.backupCount)
	if err != nil {
		return nil, err
	}
	hashes, err := backupcode.HashCodes(plaintext)
	if err != nil {
		return nil, err
	}

	credential := Credential{
		UserID:          userID,
		Secret:          pending.Secret,
		Enabled:         true,
		BackupCodes:     hashes,
		LastUsedCounter: counter,
		CreatedAt:       now.UTC(),
		LastVerifiedAt:  now.UTC(),
	}
	if err := s.repo.Create(ctx, credential); err != nil {
		return nil, fmt.Errorf("failed to persist credential: %w", err)
	}

	if err := s.store.DeletePendingEnrollment(ctx, userID); err != nil {
		slog.Warn("Failed to clear pending enrollment after confirmation", "userId", userID, "err", err)
	}

	s.recordAttempt(ctx, userID, audit.MethodTOTP, true)
	s.auditor.Record(ctx, audit.Record{Event: audit.EventEnrollmentConfirmed, UserID: userID, Success: true})
	s.notify(ctx, userID, notification.NoticeTwoFactorEnabled,
		"Two-factor authentication enabled",
		"Two-factor authentication was enabled on your MediConnect account. If this was not you, contact support immediately.")
	slog.Info("Confirmed 2FA enrollment", "userId", userID)

	return plaintext, nil
}

// VerifyLogin validates a second-factor submission during login. TOTP
// verifications advance the last-used counter; backup codes are consumed.
// Both mutations go through the repository's conditional update, so two
// requests racing with the same code cannot both succeed.
func (s *TwoFaService) VerifyLogin(ctx context.Context, userID uuid.UUID, code string, isBackupCode bool) error {
	credential, err := s.repo.Get(ctx, userID)
	if errors.Is(err, ErrCredentialNotFound) {
		return ErrNotEnabled
	}
	if err != nil {
		return fmt.Errorf("failed to get credential: %w", err)
	}
	if !credential.Enabled {
		return ErrNotEnabled
	}

	if isBackupCode {
		return s.verifyBackupCode(ctx, credential, code)
	}
	return s.verifyTotp(ctx, credential, code)
}

func (s *TwoFaService) verifyTotp(ctx context.Context, credential Credential, code string) error {
	userID := credential.UserID
	for attempt := 0; attempt < casRetryLimit; attempt++ {
		now := s.now()
		ok, counter, err := totp.Verify(credential.Secret, code, now, credential.LastUsedCounter)
		if errors.Is(err, totp.ErrMalformedCode) {
			return ErrMalformedCode
		}
		if err != nil {
			return fmt.Errorf("failed to verify code: %w", err)
		}
		if !ok {
			s.recordAttempt(ctx, userID, audit.MethodTOTP, false)
			return ErrInvalidCode
		}

		credential.LastUsedCounter = counter
		credential.LastVerifiedAt = now.UTC()
		if _, err := s.repo.Update(ctx, credential); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				// A concurrent verification advanced the credential. Re-read
				// and re-validate: if the racer consumed this counter, the
				// replay check fails the retry.
				credential, err = s.repo.Get(ctx, userID)
				if err != nil {
					return fmt.Errorf("failed to re-read credential: %w", err)
				}
				continue
			}
			return fmt.Errorf("failed to advance counter: %w", err)
		}

		s.recordAttempt(ctx, userID, audit.MethodTOTP, true)
		return nil
	}

	s.recordAttempt(ctx, userID, audit.MethodTOTP, false)
	return ErrInvalidCode
}

func (s *TwoFaService) verifyBackupCode(ctx context.Context, credential Credential, code string) error {
	userID := credential.UserID
	if len(backupcode.Canonicalize(code)) != backupcode.CodeLength {
		return ErrMalformedCode
	}

	for attempt := 0; attempt < casRetryLimit; attempt++ {
		index, ok := backupcode.Verify(code, credential.BackupCodes)
		if !ok {
			s.recordAttempt(ctx, userID, audit.MethodBackupCode, false)
			return ErrInvalidCode
		}

		credential.BackupCodes[index].Consumed = true
		credential.LastVerifiedAt = s.now().UTC()
		if _, err := s.repo.Update(ctx, credential); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				// Lost the race. Re-read: if the other request consumed this
				// very code, the next Verify pass no longer matches it.
				var getErr error
				credential, getErr = s.repo.Get(ctx, userID)
				if getErr != nil {
					return fmt.Errorf("failed to re-read credential: %w", getErr)
				}
				continue
			}
			return fmt.Errorf("failed to consume backup code: %w", err)
		}

		s.recordAttempt(ctx, userID, audit.MethodBackupCode, true)
		slog.Info("Backup code consumed", "userId", userID, "remaining", backupcode.Remaining(credential.BackupCodes))
		return nil
	}

	s.recordAttempt(ctx, userID, audit.MethodBackupCode, false)
	return ErrInvalidCode
}

// DisableTwoFactor turns two-factor authentication off. It demands re-proof
// of the current password and a currently valid TOTP code in the same
// request. Policy-locked roles are refused before any verification runs, so
// the credential is untouched, counters included.
func (s *TwoFaService) DisableTwoFactor(ctx context.Context, userID uuid.UUID, password, code string) error {
	credential, err := s.repo.Get(ctx, userID)
	if errors.Is(err, ErrCredentialNotFound) {
		return ErrNotEnabled
	}
	if err != nil {
		return fmt.Errorf("failed to get credential: %w", err)
	}
	if !credential.Enabled {
		return ErrNotEnabled
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if !s.policy.CanDisable(user.Roles) {
		s.auditor.Record(ctx, audit.Record{Event: audit.EventDisableRefused, UserID: userID})
		return ErrPolicyLocked
	}

	if s.passwords == nil {
		return errors.New("disable flow requires a password verifier")
	}
	valid, err := s.passwords.VerifyPassword(ctx, userID, password)
	if err != nil {
		return fmt.Errorf("failed to verify password: %w", err)
	}
	if !valid {
		return ErrInvalidPassword
	}

	if err := s.verifyTotp(ctx, credential, code); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, userID); err != nil {
		return fmt.Errorf("failed to remove credential: %w", err)
	}

	s.auditor.Record(ctx, audit.Record{Event: audit.EventDisabled, UserID: userID, Success: true})
	s.notify(ctx, userID, notification.NoticeTwoFactorDisabled,
		"Two-factor authentication disabled",
		"Two-factor authentication was disabled on your MediConnect account. If this was not you, contact support immediately.")
	slog.Info("Disabled 2FA", "userId", userID)

	return nil
}

// RegenerateBackupCodes mints a replacement batch. It accepts a TOTP code
// only, never a backup code, so one compromised recovery code cannot mint an
// arbitrarily large new batch. The old set is invalidated wholesale.
func (s *TwoFaService) RegenerateBackupCodes(ctx context.Context, userID uuid.UUID, code string) ([]string, error) {
	credential, err := s.repo.Get(ctx, userID)
	if errors.Is(err, ErrCredentialNotFound) {
		return nil, ErrNotEnabled
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	if !credential.Enabled {
		return nil, ErrNotEnabled
	}

	now := s.now()
	ok, counter, err := totp.Verify(credential.Secret, code, now, credential.LastUsedCounter)
	if errors.Is(err, totp.ErrMalformedCode) {
		return nil, ErrMalformedCode
	}
	if err != nil {
		return nil, fmt.Errorf("failed to verify code: %w", err)
	}
	if !ok {
		s.recordAttempt(ctx, userID, audit.MethodTOTP, false)
		return nil, ErrInvalidCode
	}

	plaintext, err := backupcode.Generate(s.backupCount)
	if err != nil {
		return nil, err
	}
	hashes, err := backupcode.HashCodes(plaintext)
	if err != nil {
		return nil, err
	}

	credential.BackupCodes = hashes
	credential.LastUsedCounter = counter
	credential.LastVerifiedAt = now.UTC()
	if _, err := s.repo.Update(ctx, credential); err != nil {
		return nil, fmt.Errorf("failed to replace backup codes: %w", err)
	}

	s.recordAttempt(ctx, userID, audit.MethodTOTP, true)
	s.auditor.Record(ctx, audit.Record{Event: audit.EventBackupCodesRegenerated, UserID: userID, Success: true})
	s.notify(ctx, userID, notification.NoticeBackupCodesRegenerated,
		"Backup codes regenerated",
		"Your MediConnect backup codes were regenerated. All previously issued codes are now invalid.")
	slog.Info("Regenerated backup codes", "userId", userID)

	return plaintext, nil
}

// GetStatus reports the account's two-factor state.
func (s *TwoFaService) GetStatus(ctx context.Context, userID uuid.UUID) (Status, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return Status{}, fmt.Errorf("failed to get user: %w", err)
	}
	required := s.policy.Required(user.Roles)

	credential, err := s.repo.Get(ctx, userID)
	if errors.Is(err, ErrCredentialNotFound) {
		return Status{Required: required}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("failed to get credential: %w", err)
	}

	return Status{
		Enabled:              credential.Enabled,
		Required:             required || credential.Enabled,
		BackupCodesRemaining: backupcode.Remaining(credential.BackupCodes),
	}, nil
}

func (s *TwoFaService) recordAttempt(ctx context.Context, userID uuid.UUID, method audit.Method, success bool) {
	if s.attempts != nil {
		s.attempts.RecordAttempt(ctx, userID, method, success)
	}
	s.auditor.Record(ctx, audit.Record{
		Event:   audit.EventVerification,
		UserID:  userID,
		Method:  method,
		Success: success,
	})
}

func (s *TwoFaService) notify(ctx context.Context, userID uuid.UUID, noticeType notification.NoticeType, subject, body string) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil || user.Email == "" {
		return
	}
	err = s.notifier.Send(ctx, noticeType, notification.Notice{
		To:      user.Email,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		slog.Error("Failed to send security notice", "userId", userID, "noticeType", string(noticeType), "err", err)
	}
}
