package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/cobaltline/identity/internal/identity/domain"
)

type permissionsRepo struct {
	db dbtx
}

// scanPermissionRow reads the shared column layout of the four permission
// tables; subject is the table-specific second column.
func scanPermissionRow(rows *sql.Rows) (id, subject, permission string, granted bool, expiresAt *time.Time, createdAt, updatedAt time.Time, err error) {
	var exp sql.NullTime
	err = rows.Scan(&id, &subject, &permission, &granted, &exp, &createdAt, &updatedAt)
	expiresAt = mapNullTimePtr(exp)
	return
}

func (r *permissionsRepo) ListUserPermissions(ctx context.Context, userID string) ([]domain.UserPermission, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, permission, is_granted, expires_at, created_at, updated_at
		FROM user_permissions WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []domain.UserPermission
	for rows.Next() {
		var p domain.UserPermission
		p.ID, p.UserID, p.Permission, p.Granted, p.ExpiresAt, p.CreatedAt, p.UpdatedAt, err = scanPermissionRow(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (r *permissionsRepo) ListRolePermissions(ctx context.Context, roleID string) ([]domain.RolePermission, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, role_id, permission, is_granted, expires_at, created_at, updated_at
		FROM role_permissions WHERE role_id = ?`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []domain.RolePermission
	for rows.Next() {
		var p domain.RolePermission
		p.ID, p.RoleID, p.Permission, p.Granted, p.ExpiresAt, p.CreatedAt, p.UpdatedAt, err = scanPermissionRow(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (r *permissionsRepo) ListLegacyRolePermissions(ctx context.Context, roleName string) ([]domain.LegacyRolePermission, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, role_name, permission, is_granted, expires_at, created_at, updated_at
		FROM legacy_role_permissions WHERE role_name = ?`, roleName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []domain.LegacyRolePermission
	for rows.Next() {
		var p domain.LegacyRolePermission
		p.ID, p.RoleName, p.Permission, p.Granted, p.ExpiresAt, p.CreatedAt, p.UpdatedAt, err = scanPermissionRow(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (r *permissionsRepo) ListDepartmentPermissions(ctx context.Context, departmentID string) ([]domain.DepartmentPermission, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, department_id, permission, is_granted, expires_at, created_at, updated_at
		FROM department_permissions WHERE department_id = ?`, departmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []domain.DepartmentPermission
	for rows.Next() {
		var p domain.DepartmentPermission
		p.ID, p.DepartmentID, p.Permission, p.Granted, p.ExpiresAt, p.CreatedAt, p.UpdatedAt, err = scanPermissionRow(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (r *permissionsRepo) UpsertUserPermission(ctx context.Context, p domain.UserPermission) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_permissions (id, user_id, permission, is_granted, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, permission) DO UPDATE SET
			is_granted = excluded.is_granted,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		p.ID, p.UserID, p.Permission, p.Granted, mapOptionalTime(p.ExpiresAt), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *permissionsRepo) UpsertRolePermission(ctx context.Context, p domain.RolePermission) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO role_permissions (id, role_id, permission, is_granted, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (role_id, permission) DO UPDATE SET
			is_granted = excluded.is_granted,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		p.ID, p.RoleID, p.Permission, p.Granted, mapOptionalTime(p.ExpiresAt), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *permissionsRepo) UpsertLegacyRolePermission(ctx context.Context, p domain.LegacyRolePermission) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO legacy_role_permissions (id, role_name, permission, is_granted, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (role_name, permission) DO UPDATE SET
			is_granted = excluded.is_granted,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		p.ID, p.RoleName, p.Permission, p.Granted, mapOptionalTime(p.ExpiresAt), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *permissionsRepo) UpsertDepartmentPermission(ctx context.Context, p domain.DepartmentPermission) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO department_permissions (id, department_id, permission, is_granted, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (department_id, permission) DO UPDATE SET
			is_granted = excluded.is_granted,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		p.ID, p.DepartmentID, p.Permission, p.Granted, mapOptionalTime(p.ExpiresAt), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *permissionsRepo) SetUserPermissionGranted(ctx context.Context, userID, permission string, granted bool) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE user_permissions SET is_granted = ?, updated_at = ?
		WHERE user_id = ? AND permission = ?`,
		granted, time.Now().UTC(), userID, permission)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *permissionsRepo) SetRolePermissionGranted(ctx context.Context, roleID, permission string, granted bool) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE role_permissions SET is_granted = ?, updated_at = ?
		WHERE role_id = ? AND permission = ?`,
		granted, time.Now().UTC(), roleID, permission)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *permissionsRepo) SetDepartmentPermissionGranted(ctx context.Context, departmentID, permission string, granted bool) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE department_permissions SET is_granted = ?, updated_at = ?
		WHERE department_id = ? AND permission = ?`,
		granted, time.Now().UTC(), departmentID, permission)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
