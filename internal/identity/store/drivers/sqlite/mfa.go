package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/cobaltline/identity/internal/identity/domain"
)

type mfaRepo struct {
	db dbtx
}

func (r *mfaRepo) GetEnrollment(ctx context.Context, userID string) (domain.MFAEnrollment, error) {
	var e domain.MFAEnrollment
	var enabledAt, lockedUntil sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, secret_enc, enabled_at, failed_attempts, locked_until, created_at, updated_at
		FROM mfa_enrollments WHERE user_id = ?`, userID).
		Scan(&e.UserID, &e.EncryptedSecret, &enabledAt, &e.FailedAttempts, &lockedUntil, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return domain.MFAEnrollment{}, mapNotFound(err)
	}
	e.EnabledAt = mapNullTimePtr(enabledAt)
	e.LockedUntil = mapNullTimePtr(lockedUntil)
	return e, nil
}

func (r *mfaRepo) CreateEnrollment(ctx context.Context, e domain.MFAEnrollment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mfa_enrollments (user_id, secret_enc, enabled_at, failed_attempts, locked_until, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.EncryptedSecret, mapOptionalTime(e.EnabledAt),
		e.FailedAttempts, mapOptionalTime(e.LockedUntil), e.CreatedAt, e.UpdatedAt)
	return err
}

func (r *mfaRepo) EnableEnrollment(ctx context.Context, userID string, enabledAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mfa_enrollments SET enabled_at = ?, updated_at = ? WHERE user_id = ? AND enabled_at IS NULL`,
		enabledAt, enabledAt, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *mfaRepo) UpdateAttempts(ctx context.Context, userID string, failedAttempts int, lockedUntil *time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mfa_enrollments SET failed_attempts = ?, locked_until = ?, updated_at = ? WHERE user_id = ?`,
		failedAttempts, mapOptionalTime(lockedUntil), time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *mfaRepo) DeleteEnrollment(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM mfa_enrollments WHERE user_id = ?`, userID)
	return err
}

func (r *mfaRepo) ClearExpiredLocks(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mfa_enrollments SET failed_attempts = 0, locked_until = NULL, updated_at = ?
		WHERE locked_until IS NOT NULL AND locked_until <= ?`, now, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *mfaRepo) CreateBackupCode(ctx context.Context, c domain.BackupCode) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mfa_backup_codes (id, user_id, code_enc, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.UserID, c.EncryptedCode, c.CreatedAt)
	return err
}

func (r *mfaRepo) ListBackupCodes(ctx context.Context, userID string) ([]domain.BackupCode, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, code_enc, created_at FROM mfa_backup_codes WHERE user_id = ? ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []domain.BackupCode
	for rows.Next() {
		var c domain.BackupCode
		if err := rows.Scan(&c.ID, &c.UserID, &c.EncryptedCode, &c.CreatedAt); err != nil {
			return nil, err
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

func (r *mfaRepo) DeleteBackupCode(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM mfa_backup_codes WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *mfaRepo) DeleteAllBackupCodes(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM mfa_backup_codes WHERE user_id = ?`, userID)
	return err
}

func (r *mfaRepo) CountBackupCodes(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mfa_backup_codes WHERE user_id = ?`, userID).Scan(&count)
	return count, err
}
