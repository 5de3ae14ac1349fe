package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cobaltline/identity/internal/identity/domain"
	"github.com/cobaltline/identity/internal/identity/service"
	"github.com/cobaltline/identity/internal/identity/store"
	"github.com/cobaltline/identity/pkg/httpx"
	"github.com/cobaltline/identity/pkg/slogx"
)

// SessionHandler handles session listing, termination and device management.
type SessionHandler struct {
	SessionService *service.SessionService
}

type sessionResponse struct {
	ID                string     `json:"id"`
	DeviceFingerprint string     `json:"device_fingerprint,omitempty"`
	IPAddress         string     `json:"ip_address"`
	UserAgent         string     `json:"user_agent,omitempty"`
	DeviceType        string     `json:"device_type"`
	RememberMe        bool       `json:"remember_me"`
	Suspicious        bool       `json:"suspicious"`
	Current           bool       `json:"current"`
	CreatedAt         time.Time  `json:"created_at"`
	LastAccessedAt    time.Time  `json:"last_accessed_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	MFAVerifiedAt     *time.Time `json:"mfa_verified_at,omitempty"`
}

func toSessionResponse(s domain.Session, currentID string) sessionResponse {
	return sessionResponse{
		ID:                s.ID,
		DeviceFingerprint: s.DeviceFingerprint,
		IPAddress:         s.IPAddress,
		UserAgent:         s.UserAgent,
		DeviceType:        s.DeviceType,
		RememberMe:        s.RememberMe,
		Suspicious:        s.Suspicious,
		Current:           s.ID == currentID,
		CreatedAt:         s.CreatedAt,
		LastAccessedAt:    s.LastAccessedAt,
		ExpiresAt:         s.ExpiresAt,
		MFAVerifiedAt:     s.LastMFAVerification,
	}
}

// HandleList handles GET /v1/sessions, returning the caller's active sessions.
func (h *SessionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := userIDFromCtx(ctx)
	currentID := sessionIDFromCtx(ctx)

	sessions, err := h.SessionService.ListActive(ctx, userID)
	if err != nil {
		log.Error("session listing failed", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
		return
	}

	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionResponse(s, currentID))
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// HandleTerminate handles DELETE /v1/sessions/{id}. Callers may only revoke
// their own sessions.
func (h *SessionHandler) HandleTerminate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := userIDFromCtx(ctx)

	sessionID := r.PathValue("id")
	if sessionID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "session id is required")
		return
	}

	// Ownership check before the revoke: a 404 here never reveals whether a
	// session id belongs to someone else.
	sessions, err := h.SessionService.ListActive(ctx, userID)
	if err != nil {
		log.Error("session lookup failed", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
		return
	}
	owned := false
	for _, s := range sessions {
		if s.ID == sessionID {
			owned = true
			break
		}
	}
	if !owned {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}

	if _, err := h.SessionService.Terminate(ctx, sessionID, domain.SessionReasonLogout); err != nil {
		log.Error("session termination failed", "session_id", sessionID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type terminateOthersResponse struct {
	Terminated int `json:"terminated"`
}

// HandleTerminateOthers handles DELETE /v1/sessions, revoking every session
// of the caller except the current one.
func (h *SessionHandler) HandleTerminateOthers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := userIDFromCtx(ctx)
	currentID := sessionIDFromCtx(ctx)

	n, err := h.SessionService.TerminateOthers(ctx, userID, currentID)
	if err != nil {
		log.Error("bulk session termination failed", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, terminateOthersResponse{Terminated: n})
}

type deviceRequest struct {
	Fingerprint string `json:"fingerprint"`
}

// HandleTrustDevice handles POST /v1/devices/trust.
func (h *SessionHandler) HandleTrustDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := userIDFromCtx(ctx)

	var req deviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.Fingerprint == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "fingerprint is required")
		return
	}

	if err := h.SessionService.TrustDevice(ctx, userID, req.Fingerprint); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "not_found", "device not found")
			return
		}
		log.Error("device trust failed", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleBlockDevice handles POST /v1/devices/block. Blocking cascades to the
// device's sessions and the user's refresh tokens.
func (h *SessionHandler) HandleBlockDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := userIDFromCtx(ctx)

	var req deviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.Fingerprint == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "fingerprint is required")
		return
	}

	if err := h.SessionService.BlockDevice(ctx, userID, req.Fingerprint); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "not_found", "device not found")
			return
		}
		log.Error("device block failed", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
