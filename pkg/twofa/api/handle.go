// Package api exposes the two-factor subsystem over HTTP. Routes are mounted
// behind the jwtauth verifier, so every request carries an authenticated
// user; the handlers resolve the acting user from the token subject and never
// accept a user ID from the request body.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/jinzhu/copier"

	"github.com/mediconnect/idm/pkg/ratelimit"
	"github.com/mediconnect/idm/pkg/twofa"
)

// LockoutChecker gates verification attempts. Implemented by
// ratelimit.LockoutLimiter; nil disables the gate.
type LockoutChecker interface {
	Check(ctx context.Context, userID uuid.UUID) (time.Duration, error)
}

// Handle carries the two-factor HTTP handlers.
type Handle struct {
	twoFaService twofa.TwoFactorService
	lockout      LockoutChecker
}

// NewHandle creates a Handle. lockout may be nil.
func NewHandle(twoFaService twofa.TwoFactorService, lockout LockoutChecker) *Handle {
	return &Handle{
		twoFaService: twoFaService,
		lockout:      lockout,
	}
}

// Router returns the two-factor management routes.
func Router(h *Handle) http.Handler {
	r := chi.NewRouter()

	r.Post("/enroll", h.PostEnroll)
	r.Post("/enroll/confirm", h.PostEnrollConfirm)
	r.Post("/verify", h.PostVerify)
	r.Post("/disable", h.PostDisable)
	r.Post("/backup-codes/regenerate", h.PostRegenerateBackupCodes)
	r.Get("/status", h.GetStatus)

	return r
}

// EnrollResponse returns the provisioning material for a started enrollment.
// The secret appears here once and is never returned again.
type EnrollResponse struct {
	Secret    string    `json:"secret"`
	URI       string    `json:"uri"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ConfirmRequest carries the first code from the enrolled authenticator.
type ConfirmRequest struct {
	Code string `json:"code"`
}

// BackupCodesResponse returns a freshly minted batch of recovery codes, the
// only time they exist in plain text.
type BackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

// VerifyRequest carries a login-time second-factor submission.
type VerifyRequest struct {
	Code         string `json:"code"`
	IsBackupCode bool   `json:"is_backup_code"`
}

// DisableRequest carries the fresh proofs required to turn 2FA off.
type DisableRequest struct {
	Password string `json:"password"`
	Code     string `json:"code"`
}

// RegenerateRequest carries the TOTP proof for replacing backup codes.
type RegenerateRequest struct {
	Code string `json:"code"`
}

// StatusResponse reports the two-factor state of the account.
type StatusResponse struct {
	Enabled              bool `json:"enabled"`
	Required             bool `json:"required"`
	BackupCodesRemaining int  `json:"backup_codes_remaining"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// PostEnroll starts (or restarts) an enrollment for the acting user.
func (h *Handle) PostEnroll(w http.ResponseWriter, r *http.Request) {
	userID, email, err := subjectFromToken(r)
	if err != nil {
		respondError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}

	key, err := h.twoFaService.StartEnrollment(r.Context(), userID, email)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, EnrollResponse{
		Secret:    key.Secret,
		URI:       key.URI,
		ExpiresAt: key.ExpiresAt,
	})
}

// PostEnrollConfirm proves authenticator possession and enables 2FA.
func (h *Handle) PostEnrollConfirm(w http.ResponseWriter, r *http.Request) {
	userID, _, err := subjectFromToken(r)
	if err != nil {
		respondError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}

	var req ConfirmRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "unable to parse body")
		return
	}

	backupCodes, err := h.twoFaService.ConfirmEnrollment(r.Context(), userID, req.Code)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, BackupCodesResponse{BackupCodes: backupCodes})
}

// PostVerify checks a second-factor submission for the acting user.
func (h *Handle) PostVerify(w http.ResponseWriter, r *http.Request) {
	userID, _, err := subjectFromToken(r)
	if err != nil {
		respondError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}

	if !h.checkLockout(w, r, userID) {
		return
	}

	var req VerifyRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "unable to parse body")
		return
	}

	if err := h.twoFaService.VerifyLogin(r.Context(), userID, req.Code, req.IsBackupCode); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]string{"result": "success"})
}

// PostDisable turns 2FA off after fresh password and code proofs.
func (h *Handle) PostDisable(w http.ResponseWriter, r *http.Request) {
	userID, _, err := subjectFromToken(r)
	if err != nil {
		respondError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}

	if !h.checkLockout(w, r, userID) {
		return
	}

	var req DisableRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "unable to parse body")
		return
	}

	if err := h.twoFaService.DisableTwoFactor(r.Context(), userID, req.Password, req.Code); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]string{"result": "success"})
}

// PostRegenerateBackupCodes replaces the backup-code batch wholesale.
func (h *Handle) PostRegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	userID, _, err := subjectFromToken(r)
	if err != nil {
		respondError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}

	if !h.checkLockout(w, r, userID) {
		return
	}

	var req RegenerateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "unable to parse body")
		return
	}

	backupCodes, err := h.twoFaService.RegenerateBackupCodes(r.Context(), userID, req.Code)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	render.JSON(w, r, BackupCodesResponse{BackupCodes: backupCodes})
}

// GetStatus reports the acting user's two-factor state.
func (h *Handle) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID, _, err := subjectFromToken(r)
	if err != nil {
		respondError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}

	status, err := h.twoFaService.GetStatus(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	var resp StatusResponse
	if err := copier.Copy(&resp, &status); err != nil {
		respondError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	render.JSON(w, r, resp)
}

func (h *Handle) checkLockout(w http.ResponseWriter, r *http.Request, userID uuid.UUID) bool {
	if h.lockout == nil {
		return true
	}

	remaining, err := h.lockout.Check(r.Context(), userID)
	if errors.Is(err, ratelimit.ErrLockedOut) {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(remaining.Seconds())))
		respondError(w, r, http.StatusTooManyRequests, "too many failed attempts")
		return false
	}
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "internal error")
		return false
	}
	return true
}

// respondServiceError maps service errors onto HTTP statuses. Invalid code
// and invalid password share one status so responses leak nothing about
// which proof failed.
func (h *Handle) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, twofa.ErrMalformedCode):
		respondError(w, r, http.StatusBadRequest, "malformed code")
	case errors.Is(err, twofa.ErrInvalidCode), errors.Is(err, twofa.ErrInvalidPassword):
		respondError(w, r, http.StatusUnauthorized, "verification failed")
	case errors.Is(err, twofa.ErrPolicyLocked):
		respondError(w, r, http.StatusForbidden, "two-factor authentication is required for this account")
	case errors.Is(err, twofa.ErrNotEnabled):
		respondError(w, r, http.StatusConflict, "two-factor authentication is not enabled")
	case errors.Is(err, twofa.ErrAlreadyEnabled):
		respondError(w, r, http.StatusConflict, "two-factor authentication is already enabled")
	case errors.Is(err, twofa.ErrEnrollmentExpired):
		respondError(w, r, http.StatusGone, "enrollment expired, start again")
	default:
		respondError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: message})
}

// subjectFromToken resolves the acting user from the verified JWT.
func subjectFromToken(r *http.Request) (uuid.UUID, string, error) {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil {
		return uuid.Nil, "", err
	}

	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("invalid subject claim: %w", err)
	}

	email, _ := claims["email"].(string)
	return userID, email, nil
}
