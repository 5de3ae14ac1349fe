package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/cobaltline/identity/internal/identity/domain"
)

type refreshTokensRepo struct {
	db dbtx
}

const refreshTokenColumns = `id, user_id, session_id, token_hash, issued_at, expires_at,
	created_by_ip, revoked, revoked_at, revoked_by_ip, reason_revoked, replaced_by_id`

func scanRefreshToken(row interface{ Scan(...any) error }) (domain.RefreshToken, error) {
	var t domain.RefreshToken
	var revokedAt sql.NullTime
	err := row.Scan(&t.ID, &t.UserID, &t.SessionID, &t.TokenHash, &t.IssuedAt, &t.ExpiresAt,
		&t.CreatedByIP, &t.Revoked, &revokedAt, &t.RevokedByIP, &t.ReasonRevoked, &t.ReplacedByID)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}
	t.RevokedAt = mapNullTimePtr(revokedAt)
	return t, nil
}

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (`+refreshTokenColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.SessionID, t.TokenHash, t.IssuedAt, t.ExpiresAt,
		t.CreatedByIP, t.Revoked, mapOptionalTime(t.RevokedAt), t.RevokedByIP,
		t.ReasonRevoked, t.ReplacedByID)
	return err
}

func (r *refreshTokensRepo) GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE token_hash = ?`, hash)
	return scanRefreshToken(row)
}

func (r *refreshTokensRepo) GetRefreshTokenByID(ctx context.Context, id string) (domain.RefreshToken, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE id = ?`, id)
	return scanRefreshToken(row)
}

func (r *refreshTokensRepo) RevokeRefreshToken(ctx context.Context, id string, at time.Time, byIP, reason, replacedByID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked = 1, revoked_at = ?, revoked_by_ip = ?, reason_revoked = ?, replaced_by_id = ?
		WHERE id = ? AND revoked = 0`,
		at, byIP, reason, replacedByID, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *refreshTokensRepo) RevokeAllUserRefreshTokens(ctx context.Context, userID string, at time.Time, byIP, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked = 1, revoked_at = ?, revoked_by_ip = ?, reason_revoked = ?
		WHERE user_id = ? AND revoked = 0`,
		at, byIP, reason, userID)
	return err
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at <= ?`, now)
	return err
}
