// Package login drives the per-session authentication state machine:
// Unauthenticated → PasswordVerified → FullyAuthenticated. Accounts without
// an enabled two-factor credential promote directly after the password step;
// accounts with one are held in PasswordVerified until the two-factor
// subsystem approves a TOTP or backup-code submission.
package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mediconnect/idm/pkg/sessions"
	"github.com/mediconnect/idm/pkg/tokengenerator"
	"github.com/mediconnect/idm/pkg/twofa"
)

// Session TTLs. The pending window is short: the session holds only a
// password-verified state that a second factor must complete.
const (
	DefaultSessionTTL = 24 * time.Hour
	DefaultPendingTTL = 5 * time.Minute
)

var (
	// ErrInvalidCredentials covers both unknown username and wrong password,
	// indistinguishably.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrSessionExpired means the login session is gone or never reached the
	// password-verified state.
	ErrSessionExpired = errors.New("login session expired")
)

// Result is the outcome of a login step. When TwoFactorRequired is set, only
// TempToken is populated and the caller must follow up with
// CompleteTwoFactor; otherwise AccessToken carries the authenticated session.
type Result struct {
	SessionID         uuid.UUID `json:"session_id"`
	UserID            uuid.UUID `json:"user_id"`
	TwoFactorRequired bool      `json:"two_factor_required"`
	TempToken         string    `json:"temp_token,omitempty"`
	AccessToken       string    `json:"access_token,omitempty"`
}

// LoginService composes the password step with the two-factor subsystem.
type LoginService struct {
	repo       UserRepository
	hasher     PasswordHasher
	twoFactor  twofa.TwoFactorService
	store      sessions.Store
	tokens     *tokengenerator.JwtService
	sessionTTL time.Duration
	pendingTTL time.Duration
}

// Option configures a LoginService.
type Option func(*LoginService)

// WithSessionTTLs overrides the authenticated-session TTL and the
// password-verified pending window. Non-positive values keep the defaults.
func WithSessionTTLs(sessionTTL, pendingTTL time.Duration) Option {
	return func(s *LoginService) {
		if sessionTTL > 0 {
			s.sessionTTL = sessionTTL
		}
		if pendingTTL > 0 {
			s.pendingTTL = pendingTTL
		}
	}
}

// NewLoginService creates the login flow service. The two-factor service is
// attached afterwards with SetTwoFactorService: the two services collaborate
// mutually (this service is the twofa password verifier and user directory),
// so wiring happens in two phases.
func NewLoginService(repo UserRepository, hasher PasswordHasher, store sessions.Store, tokens *tokengenerator.JwtService, opts ...Option) *LoginService {
	s := &LoginService{
		repo:       repo,
		hasher:     hasher,
		store:      store,
		tokens:     tokens,
		sessionTTL: DefaultSessionTTL,
		pendingTTL: DefaultPendingTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetTwoFactorService attaches the two-factor subsystem.
func (s *LoginService) SetTwoFactorService(twoFactor twofa.TwoFactorService) {
	s.twoFactor = twoFactor
}

// Login performs the password step. The session is promoted straight to
// fully authenticated when the account has no enabled two-factor credential;
// otherwise it is parked in the password-verified state behind a temp token.
func (s *LoginService) Login(ctx context.Context, username, password string) (Result, error) {
	user, err := s.repo.FindByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		// Burn comparable time so an unknown username is not observable.
		_, _ = s.hasher.Verify(password, "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")
		return Result{}, ErrInvalidCredentials
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to find user: %w", err)
	}

	valid, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return Result{}, fmt.Errorf("failed to verify password: %w", err)
	}
	if !valid {
		return Result{}, ErrInvalidCredentials
	}

	status, err := s.twoFactor.GetStatus(ctx, user.ID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get 2FA status: %w", err)
	}

	state := sessions.AuthState{
		SessionID:         uuid.New(),
		UserID:            user.ID,
		PasswordVerified:  true,
		TwoFactorRequired: status.Enabled,
	}

	if !status.Enabled {
		state.VerifiedAt = time.Now().UTC()
		if err := s.store.PutAuthState(ctx, state, s.sessionTTL); err != nil {
			return Result{}, fmt.Errorf("failed to store session: %w", err)
		}
		return s.authenticated(state, user)
	}

	if err := s.store.PutAuthState(ctx, state, s.pendingTTL); err != nil {
		return Result{}, fmt.Errorf("failed to store session: %w", err)
	}

	tempToken, err := s.tokens.GenerateTempToken(user.ID, state.SessionID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to issue temp token: %w", err)
	}

	slog.Info("Login held for second factor", "userId", user.ID)
	return Result{
		SessionID:         state.SessionID,
		UserID:            user.ID,
		TwoFactorRequired: true,
		TempToken:         tempToken,
	}, nil
}

// CompleteTwoFactor submits a second factor for a password-verified session.
// A failed submission leaves the session in the password-verified state;
// retry budgets belong to the external rate limiter.
func (s *LoginService) CompleteTwoFactor(ctx context.Context, sessionID uuid.UUID, code string, isBackupCode bool) (Result, error) {
	state, err := s.store.GetAuthState(ctx, sessionID)
	if errors.Is(err, sessions.ErrNotFound) {
		return Result{}, ErrSessionExpired
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to get session: %w", err)
	}
	if !state.PasswordVerified {
		return Result{}, ErrSessionExpired
	}

	user, err := s.repo.FindByID(ctx, state.UserID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to find user: %w", err)
	}

	if state.FullyAuthenticated() {
		return s.authenticated(state, user)
	}

	if err := s.twoFactor.VerifyLogin(ctx, state.UserID, code, isBackupCode); err != nil {
		return Result{}, err
	}

	state.TwoFactorVerified = true
	state.VerifiedAt = time.Now().UTC()
	if err := s.store.PutAuthState(ctx, state, s.sessionTTL); err != nil {
		return Result{}, fmt.Errorf("failed to store session: %w", err)
	}

	slog.Info("Second factor accepted", "userId", state.UserID)
	return s.authenticated(state, user)
}

// VerifyPassword re-proves the password for an already logged-in user. The
// two-factor disable flow is its only caller.
func (s *LoginService) VerifyPassword(ctx context.Context, userID uuid.UUID, password string) (bool, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to find user: %w", err)
	}
	return s.hasher.Verify(password, user.PasswordHash)
}

// GetUser implements twofa.UserDirectory.
func (s *LoginService) GetUser(ctx context.Context, userID uuid.UUID) (twofa.UserInfo, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return twofa.UserInfo{}, err
	}
	return twofa.UserInfo{
		ID:    user.ID,
		Email: user.Email,
		Roles: user.Roles,
	}, nil
}

func (s *LoginService) authenticated(state sessions.AuthState, user User) (Result, error) {
	accessToken, err := s.tokens.GenerateAccessToken(user.ID, state.SessionID, user.Roles)
	if err != nil {
		return Result{}, fmt.Errorf("failed to issue access token: %w", err)
	}
	return Result{
		SessionID:   state.SessionID,
		UserID:      user.ID,
		AccessToken: accessToken,
	}, nil
}
