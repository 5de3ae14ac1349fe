package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/cobaltline/identity/internal/identity/audit"
	"github.com/cobaltline/identity/internal/identity/domain"
	"github.com/cobaltline/identity/internal/identity/store"
	"github.com/cobaltline/identity/pkg/idx"
)

// PermissionService resolves effective permissions as the union of four
// sources: direct user grants, the primary role, the legacy role name, and
// the department. The legacy source is consulted only for users who have no
// primary role assigned.
type PermissionService struct {
	Store store.Store
	Audit audit.Sink

	// Now overrides the clock for tests. Nil means time.Now.
	Now func() time.Time
}

func (s *PermissionService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *PermissionService) emit(ctx context.Context, e audit.Event) {
	if s.Audit == nil {
		return
	}
	e.Timestamp = s.now()
	s.Audit.Emit(ctx, e)
}

// HasPermission reports whether any source grants the permission. A revoked
// direct grant does not mask a role or department grant; sources are a
// union, not an override chain. An empty departmentID falls back to the
// user's own department.
func (s *PermissionService) HasPermission(ctx context.Context, userID, permission, departmentID string) (bool, error) {
	now := s.now()

	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, ErrUserNotFound
		}
		return false, err
	}

	direct, err := s.Store.Permissions().ListUserPermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, p := range direct {
		if p.Permission == permission && domain.GrantEffective(p.Granted, p.ExpiresAt, now) {
			return true, nil
		}
	}

	if user.RoleID != "" {
		rolePerms, err := s.Store.Permissions().ListRolePermissions(ctx, user.RoleID)
		if err != nil {
			return false, err
		}
		for _, p := range rolePerms {
			if p.Permission == permission && domain.GrantEffective(p.Granted, p.ExpiresAt, now) {
				return true, nil
			}
		}
	} else if user.LegacyRole != "" {
		legacyPerms, err := s.Store.Permissions().ListLegacyRolePermissions(ctx, user.LegacyRole)
		if err != nil {
			return false, err
		}
		for _, p := range legacyPerms {
			if p.Permission == permission && domain.GrantEffective(p.Granted, p.ExpiresAt, now) {
				return true, nil
			}
		}
	}

	dept := departmentID
	if dept == "" {
		dept = user.DepartmentID
	}
	if dept != "" {
		deptPerms, err := s.Store.Permissions().ListDepartmentPermissions(ctx, dept)
		if err != nil {
			return false, err
		}
		for _, p := range deptPerms {
			if p.Permission == permission && domain.GrantEffective(p.Granted, p.ExpiresAt, now) {
				return true, nil
			}
		}
	}

	return false, nil
}

// ListPermissions returns the sorted, de-duplicated union of every effective
// grant across all sources.
func (s *PermissionService) ListPermissions(ctx context.Context, userID, departmentID string) ([]string, error) {
	now := s.now()

	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	set := make(map[string]struct{})

	direct, err := s.Store.Permissions().ListUserPermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, p := range direct {
		if domain.GrantEffective(p.Granted, p.ExpiresAt, now) {
			set[p.Permission] = struct{}{}
		}
	}

	if user.RoleID != "" {
		rolePerms, err := s.Store.Permissions().ListRolePermissions(ctx, user.RoleID)
		if err != nil {
			return nil, err
		}
		for _, p := range rolePerms {
			if domain.GrantEffective(p.Granted, p.ExpiresAt, now) {
				set[p.Permission] = struct{}{}
			}
		}
	} else if user.LegacyRole != "" {
		legacyPerms, err := s.Store.Permissions().ListLegacyRolePermissions(ctx, user.LegacyRole)
		if err != nil {
			return nil, err
		}
		for _, p := range legacyPerms {
			if domain.GrantEffective(p.Granted, p.ExpiresAt, now) {
				set[p.Permission] = struct{}{}
			}
		}
	}

	dept := departmentID
	if dept == "" {
		dept = user.DepartmentID
	}
	if dept != "" {
		deptPerms, err := s.Store.Permissions().ListDepartmentPermissions(ctx, dept)
		if err != nil {
			return nil, err
		}
		for _, p := range deptPerms {
			if domain.GrantEffective(p.Granted, p.ExpiresAt, now) {
				set[p.Permission] = struct{}{}
			}
		}
	}

	permissions := make([]string, 0, len(set))
	for name := range set {
		permissions = append(permissions, name)
	}
	sort.Strings(permissions)
	return permissions, nil
}

// GrantToUser creates or re-activates a direct grant.
func (s *PermissionService) GrantToUser(ctx context.Context, userID, permission string, expiresAt *time.Time) error {
	now := s.now()
	err := s.Store.Permissions().UpsertUserPermission(ctx, domain.UserPermission{
		ID:         idx.New().String(),
		UserID:     userID,
		Permission: permission,
		Granted:    true,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return err
	}
	s.auditGrant(ctx, "permission_granted", userID, permission)
	return nil
}

// RevokeFromUser flips an existing direct grant off. Rows are never
// deleted, and revoking a grant that does not exist is a no-op.
func (s *PermissionService) RevokeFromUser(ctx context.Context, userID, permission string) error {
	changed, err := s.Store.Permissions().SetUserPermissionGranted(ctx, userID, permission, false)
	if err != nil {
		return err
	}
	if changed {
		s.auditGrant(ctx, "permission_revoked", userID, permission)
	}
	return nil
}

// GrantToRole creates or re-activates a role grant.
func (s *PermissionService) GrantToRole(ctx context.Context, roleID, permission string, expiresAt *time.Time) error {
	now := s.now()
	err := s.Store.Permissions().UpsertRolePermission(ctx, domain.RolePermission{
		ID:         idx.New().String(),
		RoleID:     roleID,
		Permission: permission,
		Granted:    true,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return err
	}
	s.auditGrant(ctx, "role_permission_granted", roleID, permission)
	return nil
}

// RevokeFromRole flips an existing role grant off.
func (s *PermissionService) RevokeFromRole(ctx context.Context, roleID, permission string) error {
	changed, err := s.Store.Permissions().SetRolePermissionGranted(ctx, roleID, permission, false)
	if err != nil {
		return err
	}
	if changed {
		s.auditGrant(ctx, "role_permission_revoked", roleID, permission)
	}
	return nil
}

// GrantToDepartment creates or re-activates a department grant.
func (s *PermissionService) GrantToDepartment(ctx context.Context, departmentID, permission string, expiresAt *time.Time) error {
	now := s.now()
	err := s.Store.Permissions().UpsertDepartmentPermission(ctx, domain.DepartmentPermission{
		ID:           idx.New().String(),
		DepartmentID: departmentID,
		Permission:   permission,
		Granted:      true,
		ExpiresAt:    expiresAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return err
	}
	s.auditGrant(ctx, "department_permission_granted", departmentID, permission)
	return nil
}

// RevokeFromDepartment flips an existing department grant off.
func (s *PermissionService) RevokeFromDepartment(ctx context.Context, departmentID, permission string) error {
	changed, err := s.Store.Permissions().SetDepartmentPermissionGranted(ctx, departmentID, permission, false)
	if err != nil {
		return err
	}
	if changed {
		s.auditGrant(ctx, "department_permission_revoked", departmentID, permission)
	}
	return nil
}

func (s *PermissionService) auditGrant(ctx context.Context, action, subject, permission string) {
	s.emit(ctx, audit.Event{
		Action:   action,
		Resource: permission,
		UserID:   subject,
		Success:  true,
		Severity: audit.SeverityInfo,
	})
}
