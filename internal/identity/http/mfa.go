package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cobaltline/identity/internal/identity/service"
	"github.com/cobaltline/identity/pkg/httpx"
	"github.com/cobaltline/identity/pkg/slogx"
)

// MFAHandler handles TOTP enrollment and verification endpoints.
type MFAHandler struct {
	MFAService     *service.MFAService
	SessionService *service.SessionService
}

type mfaEnrollResponse struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	Issuer          string   `json:"issuer"`
	Account         string   `json:"account"`
	BackupCodes     []string `json:"backup_codes"`
}

// HandleEnroll handles POST /v1/mfa/enroll. The secret and backup codes are
// returned exactly once; they are never retrievable again.
func (h *MFAHandler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := userIDFromCtx(ctx)

	setup, err := h.MFAService.BeginEnrollment(ctx, userID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMFAAlreadyEnabled):
			httpx.WriteError(w, http.StatusConflict, "mfa_already_enabled", "MFA is already enabled for this account")
		default:
			log.Error("mfa enrollment failed", "user_id", userID, "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, mfaEnrollResponse{
		Secret:          setup.Secret,
		ProvisioningURI: setup.ProvisioningURI,
		Issuer:          setup.Issuer,
		Account:         setup.Account,
		BackupCodes:     setup.BackupCodes,
	})
}

type mfaCodeRequest struct {
	Code string `json:"code"`
}

// HandleConfirm handles POST /v1/mfa/confirm. A valid code proves the user
// captured the secret and activates MFA for the account.
func (h *MFAHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := userIDFromCtx(ctx)

	var req mfaCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.Code == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}

	if err := h.MFAService.ConfirmEnrollment(ctx, userID, req.Code); err != nil {
		switch {
		case errors.Is(err, service.ErrMFANotEnrolled):
			httpx.WriteError(w, http.StatusConflict, "mfa_not_enrolled", "no enrollment in progress")
		case errors.Is(err, service.ErrMFAAlreadyEnabled):
			httpx.WriteError(w, http.StatusConflict, "mfa_already_enabled", "MFA is already enabled for this account")
		case errors.Is(err, service.ErrInvalidMFACode):
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_code", "verification code is not valid")
		default:
			log.Error("mfa confirmation failed", "user_id", userID, "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleVerify handles POST /v1/mfa/verify. Used for step-up verification of
// an existing session; accepts a TOTP or backup code.
func (h *MFAHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := userIDFromCtx(ctx)
	sessionID := sessionIDFromCtx(ctx)

	var req mfaCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.Code == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}

	if err := h.MFAService.VerifyCode(ctx, userID, req.Code); err != nil {
		switch {
		case errors.Is(err, service.ErrMFANotEnrolled):
			httpx.WriteError(w, http.StatusConflict, "mfa_not_enrolled", "MFA is not enabled for this account")
		case errors.Is(err, service.ErrMFALocked):
			httpx.WriteError(w, http.StatusForbidden, "mfa_locked", "too many failed verification attempts")
		case errors.Is(err, service.ErrInvalidMFACode):
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_code", "verification code is not valid")
		default:
			log.Error("mfa verification failed", "user_id", userID, "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
		}
		return
	}

	if err := h.SessionService.MarkMFAVerified(ctx, sessionID); err != nil {
		log.Warn("failed to record mfa verification on session", "session_id", sessionID, "err", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

type mfaDisableRequest struct {
	Password string `json:"password"`
	Code     string `json:"code"`
}

// HandleDisable handles DELETE /v1/mfa. Disabling requires both the account
// password and a current code.
func (h *MFAHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := userIDFromCtx(ctx)

	var req mfaDisableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.Password == "" || req.Code == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "password and code are required")
		return
	}

	if err := h.MFAService.Disable(ctx, userID, req.Password, req.Code); err != nil {
		switch {
		case errors.Is(err, service.ErrMFANotEnrolled):
			httpx.WriteError(w, http.StatusConflict, "mfa_not_enrolled", "MFA is not enabled for this account")
		case errors.Is(err, service.ErrMFALocked):
			httpx.WriteError(w, http.StatusForbidden, "mfa_locked", "too many failed verification attempts")
		case errors.Is(err, service.ErrInvalidCredentials):
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "password is incorrect")
		case errors.Is(err, service.ErrInvalidMFACode):
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_code", "verification code is not valid")
		default:
			log.Error("mfa disable failed", "user_id", userID, "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type mfaBackupCodesResponse struct {
	Remaining int `json:"remaining"`
}

// HandleBackupCodesRemaining handles GET /v1/mfa/backup-codes.
func (h *MFAHandler) HandleBackupCodesRemaining(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := userIDFromCtx(ctx)

	remaining, err := h.MFAService.RemainingBackupCodes(ctx, userID)
	if err != nil {
		log.Error("backup code count failed", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, mfaBackupCodesResponse{Remaining: remaining})
}
