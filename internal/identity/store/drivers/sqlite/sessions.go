package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/cobaltline/identity/internal/identity/domain"
)

type sessionsRepo struct {
	db dbtx
}

const sessionColumns = `id, user_id, device_fingerprint, ip_address, user_agent, device_type,
	remember_me, created_at, last_accessed_at, expires_at, revoked, revocation_reason,
	suspicious, last_mfa_verification`

func scanSession(row interface{ Scan(...any) error }) (domain.Session, error) {
	var s domain.Session
	var lastMFA sql.NullTime
	err := row.Scan(&s.ID, &s.UserID, &s.DeviceFingerprint, &s.IPAddress, &s.UserAgent,
		&s.DeviceType, &s.RememberMe, &s.CreatedAt, &s.LastAccessedAt, &s.ExpiresAt,
		&s.Revoked, &s.RevocationReason, &s.Suspicious, &lastMFA)
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	s.LastMFAVerification = mapNullTimePtr(lastMFA)
	return s, nil
}

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.DeviceFingerprint, s.IPAddress, s.UserAgent, s.DeviceType,
		s.RememberMe, s.CreatedAt, s.LastAccessedAt, s.ExpiresAt, s.Revoked,
		s.RevocationReason, s.Suspicious, mapOptionalTime(s.LastMFAVerification))
	return err
}

func (r *sessionsRepo) GetSessionByID(ctx context.Context, id string) (domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (r *sessionsRepo) ListActiveSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = ? AND revoked = 0
		ORDER BY last_accessed_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *sessionsRepo) CountActiveSessions(ctx context.Context, userID string, now time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions
		WHERE user_id = ? AND revoked = 0 AND expires_at > ?`, userID, now).Scan(&count)
	return count, err
}

func (r *sessionsRepo) TouchSession(ctx context.Context, id string, lastAccessed, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET last_accessed_at = ?, expires_at = ? WHERE id = ? AND revoked = 0`,
		lastAccessed, expiresAt, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *sessionsRepo) MarkSessionSuspicious(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET suspicious = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *sessionsRepo) UpdateLastMFAVerification(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET last_mfa_verification = ? WHERE id = ?`, at, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *sessionsRepo) RevokeSession(ctx context.Context, id, reason string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked = 1, revocation_reason = ? WHERE id = ? AND revoked = 0`,
		reason, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *sessionsRepo) RevokeUserSessions(ctx context.Context, userID, keepID, reason string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked = 1, revocation_reason = ?
		WHERE user_id = ? AND revoked = 0 AND id != ?`,
		reason, userID, keepID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *sessionsRepo) RevokeSessionsByFingerprint(ctx context.Context, userID, fingerprint, reason string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked = 1, revocation_reason = ?
		WHERE user_id = ? AND device_fingerprint = ? AND revoked = 0`,
		reason, userID, fingerprint)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *sessionsRepo) RevokeExpiredSessions(ctx context.Context, now time.Time, reason string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked = 1, revocation_reason = ?
		WHERE revoked = 0 AND expires_at <= ?`,
		reason, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
