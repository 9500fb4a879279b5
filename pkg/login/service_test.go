package login_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediconnect/idm/pkg/login"
	"github.com/mediconnect/idm/pkg/sessions"
	"github.com/mediconnect/idm/pkg/tokengenerator"
	"github.com/mediconnect/idm/pkg/totp"
	"github.com/mediconnect/idm/pkg/twofa"
)

type loginFixture struct {
	users    *login.InMemUserRepository
	store    *sessions.InMemStore
	tokens   *tokengenerator.JwtService
	service  *login.LoginService
	twoFa    twofa.TwoFactorService
	userID   uuid.UUID
	username string
	password string
}

func newLoginFixture(t *testing.T, opts ...login.Option) *loginFixture {
	t.Helper()

	users := login.NewInMemUserRepository()
	hasher := login.NewBcryptHasher()
	store := sessions.NewInMemStore()
	tokens := tokengenerator.NewJwtService([]byte("test-signing-secret"), "idm-test")

	service := login.NewLoginService(users, hasher, store, tokens, opts...)
	twoFa := twofa.NewTwoFaService(
		twofa.NewInMemCredentialRepository(),
		store,
		service,
		twofa.WithPasswordVerifier(service),
	)
	service.SetTwoFactorService(twoFa)

	password := "correct horse battery staple"
	hash, err := hasher.Hash(password)
	require.NoError(t, err)

	userID := uuid.New()
	users.AddUser(login.User{
		ID:           userID,
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: hash,
		Roles:        []string{"clinician"},
	})

	return &loginFixture{
		users:    users,
		store:    store,
		tokens:   tokens,
		service:  service,
		twoFa:    twoFa,
		userID:   userID,
		username: "alice",
		password: password,
	}
}

// enrollTwoFactor runs the enrollment flow end to end and returns the shared
// secret so tests can mint codes of their own.
func (f *loginFixture) enrollTwoFactor(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	key, err := f.twoFa.StartEnrollment(ctx, f.userID, "alice@example.com")
	require.NoError(t, err)

	code, err := totp.GenerateCode(key.Secret, time.Now())
	require.NoError(t, err)

	_, err = f.twoFa.ConfirmEnrollment(ctx, f.userID, code)
	require.NoError(t, err)
	return key.Secret
}

// nextCode returns a code from the step after the one consumed at enrollment,
// so the replay guard does not reject it.
func nextCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now().Add(totp.DefaultPeriod*time.Second))
	require.NoError(t, err)
	return code
}

func TestLogin_WithoutTwoFactorPromotesDirectly(t *testing.T) {
	f := newLoginFixture(t)

	result, err := f.service.Login(context.Background(), f.username, f.password)
	require.NoError(t, err)

	assert.False(t, result.TwoFactorRequired)
	assert.Empty(t, result.TempToken)
	require.NotEmpty(t, result.AccessToken)

	claims, err := f.tokens.ParseToken(result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, tokengenerator.ACCESS_TOKEN_NAME, claims.TokenType)
	assert.Equal(t, f.userID.String(), claims.Subject)
	assert.Equal(t, []string{"clinician"}, claims.Roles)

	state, err := f.store.GetAuthState(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.True(t, state.FullyAuthenticated())
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newLoginFixture(t)
	ctx := context.Background()

	_, err := f.service.Login(ctx, f.username, "wrong password")
	assert.ErrorIs(t, err, login.ErrInvalidCredentials)

	// Unknown usernames are indistinguishable from wrong passwords.
	_, err = f.service.Login(ctx, "nobody", f.password)
	assert.ErrorIs(t, err, login.ErrInvalidCredentials)
}

func TestLogin_WithTwoFactorHeldForSecondFactor(t *testing.T) {
	f := newLoginFixture(t)
	f.enrollTwoFactor(t)

	result, err := f.service.Login(context.Background(), f.username, f.password)
	require.NoError(t, err)

	assert.True(t, result.TwoFactorRequired)
	assert.Empty(t, result.AccessToken)
	require.NotEmpty(t, result.TempToken)

	claims, err := f.tokens.ParseToken(result.TempToken)
	require.NoError(t, err)
	assert.Equal(t, tokengenerator.TEMP_TOKEN_NAME, claims.TokenType)
	assert.Empty(t, claims.Roles)

	state, err := f.store.GetAuthState(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.True(t, state.PasswordVerified)
	assert.False(t, state.FullyAuthenticated())
}

func TestLogin_SessionTTLOption(t *testing.T) {
	f := newLoginFixture(t, login.WithSessionTTLs(time.Millisecond, 0))
	ctx := context.Background()

	result, err := f.service.Login(ctx, f.username, f.password)
	require.NoError(t, err)
	require.NotEmpty(t, result.AccessToken)

	time.Sleep(5 * time.Millisecond)

	_, err = f.store.GetAuthState(ctx, result.SessionID)
	assert.ErrorIs(t, err, sessions.ErrNotFound)
}

func TestLogin_PendingTTLOption(t *testing.T) {
	f := newLoginFixture(t, login.WithSessionTTLs(0, time.Millisecond))
	secret := f.enrollTwoFactor(t)
	ctx := context.Background()

	held, err := f.service.Login(ctx, f.username, f.password)
	require.NoError(t, err)
	require.True(t, held.TwoFactorRequired)

	// The pending window closes before the second factor arrives.
	time.Sleep(5 * time.Millisecond)

	_, err = f.service.CompleteTwoFactor(ctx, held.SessionID, nextCode(t, secret), false)
	assert.ErrorIs(t, err, login.ErrSessionExpired)
}

func TestCompleteTwoFactor_PromotesSession(t *testing.T) {
	f := newLoginFixture(t)
	secret := f.enrollTwoFactor(t)
	ctx := context.Background()

	held, err := f.service.Login(ctx, f.username, f.password)
	require.NoError(t, err)

	result, err := f.service.CompleteTwoFactor(ctx, held.SessionID, nextCode(t, secret), false)
	require.NoError(t, err)
	require.NotEmpty(t, result.AccessToken)

	claims, err := f.tokens.ParseToken(result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, tokengenerator.ACCESS_TOKEN_NAME, claims.TokenType)
	assert.Equal(t, []string{"clinician"}, claims.Roles)

	state, err := f.store.GetAuthState(ctx, result.SessionID)
	require.NoError(t, err)
	assert.True(t, state.FullyAuthenticated())
}

func TestCompleteTwoFactor_FailureLeavesSessionRetryable(t *testing.T) {
	f := newLoginFixture(t)
	secret := f.enrollTwoFactor(t)
	ctx := context.Background()

	held, err := f.service.Login(ctx, f.username, f.password)
	require.NoError(t, err)

	_, err = f.service.CompleteTwoFactor(ctx, held.SessionID, "000000", false)
	assert.ErrorIs(t, err, twofa.ErrInvalidCode)

	// The session stays in the password-verified state, so a correct code
	// still completes the login.
	state, err := f.store.GetAuthState(ctx, held.SessionID)
	require.NoError(t, err)
	assert.True(t, state.PasswordVerified)
	assert.False(t, state.FullyAuthenticated())

	result, err := f.service.CompleteTwoFactor(ctx, held.SessionID, nextCode(t, secret), false)
	require.NoError(t, err)
	assert.NotEmpty(t, result.AccessToken)
}

func TestCompleteTwoFactor_WithBackupCode(t *testing.T) {
	f := newLoginFixture(t)
	ctx := context.Background()

	key, err := f.twoFa.StartEnrollment(ctx, f.userID, "alice@example.com")
	require.NoError(t, err)
	code, err := totp.GenerateCode(key.Secret, time.Now())
	require.NoError(t, err)
	backupCodes, err := f.twoFa.ConfirmEnrollment(ctx, f.userID, code)
	require.NoError(t, err)
	require.NotEmpty(t, backupCodes)

	held, err := f.service.Login(ctx, f.username, f.password)
	require.NoError(t, err)

	result, err := f.service.CompleteTwoFactor(ctx, held.SessionID, backupCodes[0], true)
	require.NoError(t, err)
	assert.NotEmpty(t, result.AccessToken)
}

func TestCompleteTwoFactor_UnknownSession(t *testing.T) {
	f := newLoginFixture(t)
	f.enrollTwoFactor(t)

	_, err := f.service.CompleteTwoFactor(context.Background(), uuid.New(), "123456", false)
	assert.ErrorIs(t, err, login.ErrSessionExpired)
}

func TestVerifyPassword(t *testing.T) {
	f := newLoginFixture(t)
	ctx := context.Background()

	ok, err := f.service.VerifyPassword(ctx, f.userID, f.password)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.service.VerifyPassword(ctx, f.userID, "wrong password")
	require.NoError(t, err)
	assert.False(t, ok)

	// An unknown user fails verification without surfacing an error.
	ok, err = f.service.VerifyPassword(ctx, uuid.New(), f.password)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetUser(t *testing.T) {
	f := newLoginFixture(t)

	info, err := f.service.GetUser(context.Background(), f.userID)
	require.NoError(t, err)
	assert.Equal(t, f.userID, info.ID)
	assert.Equal(t, "alice@example.com", info.Email)
	assert.Equal(t, []string{"clinician"}, info.Roles)
}
