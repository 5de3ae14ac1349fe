package sqlite

import (
	"context"
	"time"

	"github.com/cobaltline/identity/internal/identity/domain"
)

type devicesRepo struct {
	db dbtx
}

func (r *devicesRepo) GetDevice(ctx context.Context, userID, fingerprint string) (domain.DeviceFingerprint, error) {
	var d domain.DeviceFingerprint
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, fingerprint, trusted, blocked, first_seen, last_seen
		FROM device_fingerprints WHERE user_id = ? AND fingerprint = ?`,
		userID, fingerprint).
		Scan(&d.UserID, &d.Fingerprint, &d.Trusted, &d.Blocked, &d.FirstSeen, &d.LastSeen)
	if err != nil {
		return domain.DeviceFingerprint{}, mapNotFound(err)
	}
	return d, nil
}

func (r *devicesRepo) UpsertDeviceSeen(ctx context.Context, userID, fingerprint string, seenAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device_fingerprints (user_id, fingerprint, trusted, blocked, first_seen, last_seen)
		VALUES (?, ?, 0, 0, ?, ?)
		ON CONFLICT (user_id, fingerprint) DO UPDATE SET last_seen = excluded.last_seen`,
		userID, fingerprint, seenAt, seenAt)
	return err
}

func (r *devicesRepo) SetDeviceTrusted(ctx context.Context, userID, fingerprint string, trusted bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE device_fingerprints SET trusted = ? WHERE user_id = ? AND fingerprint = ?`,
		trusted, userID, fingerprint)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *devicesRepo) SetDeviceBlocked(ctx context.Context, userID, fingerprint string, blocked bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE device_fingerprints SET blocked = ? WHERE user_id = ? AND fingerprint = ?`,
		blocked, userID, fingerprint)
	if err != nil {
		return err
	}
	return requireRow(res)
}
