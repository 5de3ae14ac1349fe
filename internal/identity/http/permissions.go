package http

import (
	"net/http"

	"github.com/cobaltline/identity/internal/identity/service"
	"github.com/cobaltline/identity/pkg/httpx"
	"github.com/cobaltline/identity/pkg/slogx"
)

// PermissionHandler exposes effective-permission queries for the caller.
type PermissionHandler struct {
	PermissionService *service.PermissionService
}

type permissionListResponse struct {
	Permissions []string `json:"permissions"`
}

// HandleList handles GET /v1/permissions. An optional department query
// parameter overrides the caller's home department for the union.
func (h *PermissionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := userIDFromCtx(ctx)

	departmentID := r.URL.Query().Get("department")

	perms, err := h.PermissionService.ListPermissions(ctx, userID, departmentID)
	if err != nil {
		log.Error("permission listing failed", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, permissionListResponse{Permissions: perms})
}

type permissionCheckResponse struct {
	Permission string `json:"permission"`
	Granted    bool   `json:"granted"`
}

// HandleCheck handles GET /v1/permissions/check?permission=...&department=...
func (h *PermissionHandler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := userIDFromCtx(ctx)

	permission := r.URL.Query().Get("permission")
	if permission == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "permission query parameter is required")
		return
	}
	departmentID := r.URL.Query().Get("department")

	granted, err := h.PermissionService.HasPermission(ctx, userID, permission, departmentID)
	if err != nil {
		log.Error("permission check failed", "user_id", userID, "permission", permission, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, permissionCheckResponse{
		Permission: permission,
		Granted:    granted,
	})
}
