package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediconnect/idm/pkg/login"
	"github.com/mediconnect/idm/pkg/sessions"
	"github.com/mediconnect/idm/pkg/tokengenerator"
	"github.com/mediconnect/idm/pkg/totp"
	"github.com/mediconnect/idm/pkg/twofa"
)

type loginAPIFixture struct {
	server *httptest.Server
	twoFa  twofa.TwoFactorService
	userID uuid.UUID
}

func newLoginAPIFixture(t *testing.T, opts ...HandleOption) *loginAPIFixture {
	t.Helper()

	users := login.NewInMemUserRepository()
	hasher := login.NewBcryptHasher()
	store := sessions.NewInMemStore()
	tokens := tokengenerator.NewJwtService([]byte("test-signing-secret"), "idm-test")
	auth := jwtauth.New("HS256", tokens.Secret(), nil)

	loginService := login.NewLoginService(users, hasher, store, tokens)
	twoFaService := twofa.NewTwoFaService(
		twofa.NewInMemCredentialRepository(),
		store,
		loginService,
		twofa.WithPasswordVerifier(loginService),
		twofa.WithBackupCodeCount(4),
	)
	loginService.SetTwoFactorService(twoFaService)

	hash, err := hasher.Hash("correct horse battery staple")
	require.NoError(t, err)

	userID := uuid.New()
	users.AddUser(login.User{
		ID:           userID,
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: hash,
		Roles:        []string{"clinician"},
	})

	server := httptest.NewServer(Router(NewHandle(loginService, tokens, opts...), auth))
	t.Cleanup(server.Close)

	return &loginAPIFixture{server: server, twoFa: twoFaService, userID: userID}
}

func (f *loginAPIFixture) enroll(t *testing.T) string {
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

func (f *loginAPIFixture) post(t *testing.T, path, token string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))

	req, err := http.NewRequest(http.MethodPost, f.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestLoginAPI_PasswordOnly(t *testing.T) {
	f := newLoginAPIFixture(t)

	resp := f.post(t, "/login", "", LoginRequest{Username: "alice", Password: "correct horse battery staple"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result login.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.False(t, result.TwoFactorRequired)
	assert.NotEmpty(t, result.AccessToken)
	assert.Empty(t, result.TempToken)
}

func TestLoginAPI_WrongPassword(t *testing.T) {
	f := newLoginAPIFixture(t)

	resp := f.post(t, "/login", "", LoginRequest{Username: "alice", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginAPI_TwoFactorCompletion(t *testing.T) {
	f := newLoginAPIFixture(t)
	secret := f.enroll(t)

	resp := f.post(t, "/login", "", LoginRequest{Username: "alice", Password: "correct horse battery staple"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var held login.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&held))
	require.True(t, held.TwoFactorRequired)
	require.NotEmpty(t, held.TempToken)

	code, err := totp.GenerateCode(secret, time.Now().Add(totp.DefaultPeriod*time.Second))
	require.NoError(t, err)

	resp = f.post(t, "/2fa/complete", held.TempToken, CompleteRequest{Code: code})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result login.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.NotEmpty(t, result.AccessToken)
}

func TestLoginAPI_SetsTokenCookies(t *testing.T) {
	f := newLoginAPIFixture(t, WithCookieSetter(tokengenerator.NewCookieSetter(true, false)))
	secret := f.enroll(t)

	resp := f.post(t, "/login", "", LoginRequest{Username: "alice", Password: "correct horse battery staple"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	temp := findCookie(t, resp, tokengenerator.TEMP_TOKEN_NAME)
	assert.NotEmpty(t, temp.Value)
	assert.True(t, temp.HttpOnly)
	assert.False(t, temp.Secure)

	var held login.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&held))
	require.NotEmpty(t, held.TempToken)

	code, err := totp.GenerateCode(secret, time.Now().Add(totp.DefaultPeriod*time.Second))
	require.NoError(t, err)

	resp = f.post(t, "/2fa/complete", held.TempToken, CompleteRequest{Code: code})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	access := findCookie(t, resp, tokengenerator.ACCESS_TOKEN_NAME)
	assert.NotEmpty(t, access.Value)
	assert.True(t, access.HttpOnly)

	// Promotion retires the temp-token cookie.
	retired := findCookie(t, resp, tokengenerator.TEMP_TOKEN_NAME)
	assert.Empty(t, retired.Value)
	assert.Negative(t, retired.MaxAge)
}

func findCookie(t *testing.T, resp *http.Response, name string) *http.Cookie {
	t.Helper()
	for _, cookie := range resp.Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	t.Fatalf("cookie %s not set", name)
	return nil
}

func TestLoginAPI_CompletionWithWrongCode(t *testing.T) {
	f := newLoginAPIFixture(t)
	f.enroll(t)

	resp := f.post(t, "/login", "", LoginRequest{Username: "alice", Password: "correct horse battery staple"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var held login.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&held))

	resp = f.post(t, "/2fa/complete", held.TempToken, CompleteRequest{Code: "000000"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginAPI_CompletionRejectsAccessToken(t *testing.T) {
	f := newLoginAPIFixture(t)
	f.enroll(t)

	// An access token passes signature checks but is the wrong type for the
	// completion endpoint.
	tokens := tokengenerator.NewJwtService([]byte("test-signing-secret"), "idm-test")
	accessToken, err := tokens.GenerateAccessToken(f.userID, uuid.New(), nil)
	require.NoError(t, err)

	resp := f.post(t, "/2fa/complete", accessToken, CompleteRequest{Code: "123456"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginAPI_CompletionWithoutToken(t *testing.T) {
	f := newLoginAPIFixture(t)

	resp := f.post(t, "/2fa/complete", "", CompleteRequest{Code: "123456"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
