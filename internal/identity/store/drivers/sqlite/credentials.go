package sqlite

import (
	"context"

	"github.com/cobaltline/identity/internal/identity/domain"
)

type credentialsRepo struct {
	db dbtx
}

func (r *credentialsRepo) GetCredential(ctx context.Context, userID string) (domain.Credential, error) {
	var c domain.Credential
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, password_hash, updated_at FROM credentials WHERE user_id = ?`, userID).
		Scan(&c.UserID, &c.PasswordHash, &c.UpdatedAt)
	if err != nil {
		return domain.Credential{}, mapNotFound(err)
	}
	return c, nil
}

func (r *credentialsRepo) UpsertCredential(ctx context.Context, c domain.Credential) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO credentials (user_id, password_hash, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET password_hash = excluded.password_hash, updated_at = excluded.updated_at`,
		c.UserID, c.PasswordHash, c.UpdatedAt)
	return err
}
