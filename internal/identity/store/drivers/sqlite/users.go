package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/cobaltline/identity/internal/identity/domain"
)

type usersRepo struct {
	db dbtx
}

const userColumns = `id, username, display_name, COALESCE(role_id, ''), legacy_role, department_id, active, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID, &u.Username, &u.DisplayName, &u.RoleID, &u.LegacyRole,
		&u.DepartmentID, &u.Active, &u.CreatedAt, &u.UpdatedAt,
	)
	return u, err
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return u, nil
}

func (r *usersRepo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	u, err := scanUser(row)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return u, nil
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	var roleID sql.NullString
	if u.RoleID != "" {
		roleID = sql.NullString{String: u.RoleID, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, display_name, role_id, legacy_role, department_id, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.DisplayName, roleID, u.LegacyRole,
		u.DepartmentID, u.Active, u.CreatedAt, u.UpdatedAt,
	)
	return err
}

func (r *usersRepo) SetUserActive(ctx context.Context, userID string, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *usersRepo) SetUserRole(ctx context.Context, userID, roleID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET role_id = ?, legacy_role = '', updated_at = ? WHERE id = ?`,
		roleID, time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *usersRepo) IsEmpty(ctx context.Context) (bool, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return mapNotFound(sql.ErrNoRows)
	}
	return nil
}
