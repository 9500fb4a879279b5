// Package api exposes the login flow over HTTP: the password step and the
// second-factor completion step. Completion authenticates with the temp
// token issued by the password step, not with a full access token.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/mediconnect/idm/pkg/login"
	"github.com/mediconnect/idm/pkg/tokengenerator"
	"github.com/mediconnect/idm/pkg/twofa"
)

// Handle carries the login HTTP handlers.
type Handle struct {
	loginService *login.LoginService
	tokens       *tokengenerator.JwtService
	cookies      tokengenerator.CookieSetter
}

// HandleOption configures a Handle.
type HandleOption func(*Handle)

// WithCookieSetter makes the handlers mirror issued tokens into cookies for
// browser clients. Without it, tokens travel in the JSON body only.
func WithCookieSetter(cookies tokengenerator.CookieSetter) HandleOption {
	return func(h *Handle) {
		h.cookies = cookies
	}
}

// NewHandle creates a Handle.
func NewHandle(loginService *login.LoginService, tokens *tokengenerator.JwtService, opts ...HandleOption) *Handle {
	h := &Handle{
		loginService: loginService,
		tokens:       tokens,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router returns the login routes. The 2FA completion route sits behind the
// temp-token verifier.
func Router(h *Handle, auth *jwtauth.JWTAuth) http.Handler {
	r := chi.NewRouter()

	r.Post("/login", h.PostLogin)

	r.Group(func(r chi.Router) {
		r.Use(jwtauth.Verifier(auth))
		r.Use(jwtauth.Authenticator(auth))
		r.Post("/2fa/complete", h.Post2faComplete)
	})

	return r
}

// LoginRequest carries the password-step credentials.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CompleteRequest carries the second-factor submission.
type CompleteRequest struct {
	Code         string `json:"code"`
	IsBackupCode bool   `json:"is_backup_code"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// PostLogin performs the password step.
func (h *Handle) PostLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "unable to parse body")
		return
	}

	result, err := h.loginService.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, login.ErrInvalidCredentials) {
		respondError(w, r, http.StatusUnauthorized, "invalid username or password")
		return
	}
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	h.setTokenCookies(w, result)
	render.JSON(w, r, result)
}

// Post2faComplete submits the second factor for a held session. The session
// comes from the temp token, never from the request body.
func (h *Handle) Post2faComplete(w http.ResponseWriter, r *http.Request) {
	claims, err := h.tempClaims(r)
	if err != nil {
		respondError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}

	sessionID, err := uuid.Parse(claims.SessionID)
	if err != nil {
		respondError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}

	var req CompleteRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "unable to parse body")
		return
	}

	result, err := h.loginService.CompleteTwoFactor(r.Context(), sessionID, req.Code, req.IsBackupCode)
	switch {
	case errors.Is(err, login.ErrSessionExpired):
		respondError(w, r, http.StatusUnauthorized, "login session expired")
	case errors.Is(err, twofa.ErrMalformedCode):
		respondError(w, r, http.StatusBadRequest, "malformed code")
	case errors.Is(err, twofa.ErrInvalidCode), errors.Is(err, twofa.ErrNotEnabled):
		respondError(w, r, http.StatusUnauthorized, "verification failed")
	case err != nil:
		respondError(w, r, http.StatusInternalServerError, "internal error")
	default:
		h.setTokenCookies(w, result)
		render.JSON(w, r, result)
	}
}

// setTokenCookies mirrors the result's tokens into cookies when a setter is
// configured. Promotion to a full session retires the temp-token cookie.
func (h *Handle) setTokenCookies(w http.ResponseWriter, result login.Result) {
	if h.cookies == nil {
		return
	}
	now := time.Now()
	if result.TempToken != "" {
		_ = h.cookies.SetCookie(w, tokengenerator.TEMP_TOKEN_NAME, result.TempToken, now.Add(h.tokens.TempTokenExpiry))
	}
	if result.AccessToken != "" {
		_ = h.cookies.SetCookie(w, tokengenerator.ACCESS_TOKEN_NAME, result.AccessToken, now.Add(h.tokens.AccessTokenExpiry))
		_ = h.cookies.ClearCookie(w, tokengenerator.TEMP_TOKEN_NAME)
	}
}

// tempClaims re-parses the bearer token with the issuing service so the
// typed claims are available, and refuses tokens of the wrong type.
func (h *Handle) tempClaims(r *http.Request) (*tokengenerator.Claims, error) {
	claims, err := h.tokens.ParseToken(jwtauth.TokenFromHeader(r))
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokengenerator.TEMP_TOKEN_NAME {
		return nil, errors.New("not a temp token")
	}
	return claims, nil
}

func respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: message})
}
