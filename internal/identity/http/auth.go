package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cobaltline/identity/internal/identity/domain"
	"github.com/cobaltline/identity/internal/identity/service"
	"github.com/cobaltline/identity/pkg/httpx"
	"github.com/cobaltline/identity/pkg/slogx"
)

// AuthHandler handles login, token refresh, logout and password changes.
type AuthHandler struct {
	AuthService  *service.AuthService
	TokenService *service.TokenService
}

type loginRequest struct {
	Username          string `json:"username"`
	Password          string `json:"password"`
	MFACode           string `json:"mfa_code,omitempty"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
	RememberMe        bool   `json:"remember_me,omitempty"`
}

type loginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	SessionID    string `json:"session_id"`
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	DisplayName  string `json:"display_name,omitempty"`
}

// HandleLogin handles POST /v1/auth/login.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	client := domain.ClientInfo{
		Fingerprint: req.DeviceFingerprint,
		IPAddress:   clientIP(r),
		UserAgent:   r.UserAgent(),
	}

	result, err := h.AuthService.Login(ctx, req.Username, req.Password, req.MFACode, client, req.RememberMe)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMFARequired):
			httpx.WriteError(w, http.StatusUnauthorized, "mfa_required", "a second factor code is required")
		case errors.Is(err, service.ErrInvalidCredentials),
			errors.Is(err, service.ErrInvalidMFACode):
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid username, password or code")
		case errors.Is(err, service.ErrMFALocked):
			httpx.WriteError(w, http.StatusForbidden, "mfa_locked", "too many failed verification attempts")
		case errors.Is(err, service.ErrAccountDisabled):
			httpx.WriteError(w, http.StatusForbidden, "account_disabled", "account is deactivated")
		case errors.Is(err, service.ErrDeviceBlocked):
			httpx.WriteError(w, http.StatusForbidden, "device_blocked", "this device has been blocked")
		case errors.Is(err, service.ErrTooManyAttempts):
			httpx.WriteError(w, http.StatusTooManyRequests, "too_many_attempts", "too many failed login attempts, try again later")
		default:
			log.Error("login failed", "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, loginResponse{
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		TokenType:    result.Tokens.TokenType,
		ExpiresIn:    result.Tokens.ExpiresIn,
		SessionID:    result.Session.ID,
		UserID:       result.User.ID,
		Username:     result.User.Username,
		DisplayName:  result.User.DisplayName,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// HandleRefresh handles POST /v1/auth/refresh. The presented token is
// consumed whether or not rotation succeeds.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.RefreshToken == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	pair, err := h.TokenService.Refresh(ctx, req.RefreshToken, clientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTokenInvalid),
			errors.Is(err, service.ErrTokenExpired),
			errors.Is(err, service.ErrTokenRevoked),
			errors.Is(err, service.ErrTokenReuseDetected):
			// Reuse detection is deliberately indistinguishable from any
			// other rejected token on the wire.
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_grant", "refresh token is not valid")
		case errors.Is(err, service.ErrAccountDisabled):
			httpx.WriteError(w, http.StatusForbidden, "account_disabled", "account is deactivated")
		default:
			log.Error("token refresh failed", "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, refreshResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
	})
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
}

// HandleLogout handles POST /v1/auth/logout. Always returns 204: logout is
// idempotent and never leaks whether the supplied token existed.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req logoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	if err := h.AuthService.Logout(ctx, req.RefreshToken, req.SessionID, clientIP(r)); err != nil {
		log.Error("logout failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// HandleChangePassword handles POST /v1/auth/password. Every other session
// and all refresh tokens of the caller are revoked on success.
func (h *AuthHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "current_password and new_password are required")
		return
	}

	userID := userIDFromCtx(ctx)
	sessionID := sessionIDFromCtx(ctx)

	err := h.AuthService.ChangePassword(ctx, userID, req.CurrentPassword, req.NewPassword, sessionID, clientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "current password is incorrect")
		default:
			log.Error("password change failed", "user_id", userID, "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
