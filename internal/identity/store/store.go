package store

import (
	"context"
	"errors"
	"time"

	"github.com/cobaltline/identity/internal/identity/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers implement this.
// It exposes sub-repositories to keep concerns tidy and testable.
type Store interface {
	Users() Users
	Roles() Roles
	Credentials() Credentials
	MFA() MFA
	RefreshTokens() RefreshTokens
	Sessions() Sessions
	Devices() Devices
	Permissions() Permissions

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed. This is the
	// recommended way to handle multi-step mutations that must be atomic
	// (e.g. refresh-token rotation).
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	GetUserByUsername(ctx context.Context, username string) (domain.User, error)

	// CreateUser inserts a new user (id is provided by app via ULID).
	CreateUser(ctx context.Context, u domain.User) error

	// SetUserActive flips the active flag; accounts are never deleted.
	SetUserActive(ctx context.Context, userID string, active bool) error

	// SetUserRole assigns a primary role, clearing the legacy role name.
	SetUserRole(ctx context.Context, userID, roleID string) error

	// IsEmpty returns true if there are no users (bootstrap check).
	IsEmpty(ctx context.Context) (bool, error)
}

type Roles interface {
	GetRoleByID(ctx context.Context, id string) (domain.Role, error)
	GetRoleByName(ctx context.Context, name string) (domain.Role, error)
	CreateRole(ctx context.Context, r domain.Role) error
}

type Credentials interface {
	GetCredential(ctx context.Context, userID string) (domain.Credential, error)

	// UpsertCredential inserts or replaces the password hash for a user.
	// Used at registration, password change, and legacy-hash upgrade.
	UpsertCredential(ctx context.Context, c domain.Credential) error
}

type MFA interface {
	GetEnrollment(ctx context.Context, userID string) (domain.MFAEnrollment, error)

	// CreateEnrollment stores a pending (not yet enabled) enrollment.
	CreateEnrollment(ctx context.Context, e domain.MFAEnrollment) error

	// EnableEnrollment stamps enabled_at, completing setup.
	EnableEnrollment(ctx context.Context, userID string, enabledAt time.Time) error

	// UpdateAttempts writes the failure counter and lockout deadline together.
	UpdateAttempts(ctx context.Context, userID string, failedAttempts int, lockedUntil *time.Time) error

	// DeleteEnrollment wipes the enrollment, returning the user to NotEnrolled.
	DeleteEnrollment(ctx context.Context, userID string) error

	// ClearExpiredLocks resets the failure counter on enrollments whose
	// lockout deadline has passed. Returns the number of rows cleared.
	ClearExpiredLocks(ctx context.Context, now time.Time) (int, error)

	CreateBackupCode(ctx context.Context, c domain.BackupCode) error

	// ListBackupCodes returns all remaining codes for decrypt-and-compare.
	ListBackupCodes(ctx context.Context, userID string) ([]domain.BackupCode, error)

	// DeleteBackupCode removes a consumed code (single-use).
	DeleteBackupCode(ctx context.Context, id string) error

	DeleteAllBackupCodes(ctx context.Context, userID string) error

	CountBackupCodes(ctx context.Context, userID string) (int, error)
}

type RefreshTokens interface {
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error

	// GetRefreshTokenByHash returns the token row by its fingerprint,
	// whatever its state; callers decide how to treat revoked/expired rows.
	GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	GetRefreshTokenByID(ctx context.Context, id string) (domain.RefreshToken, error)

	// RevokeRefreshToken transitions a token to revoked exactly once; the
	// UPDATE is conditional on revoked=0 and reports whether it applied.
	RevokeRefreshToken(ctx context.Context, id string, at time.Time, byIP, reason, replacedByID string) (bool, error)

	// RevokeAllUserRefreshTokens bulk revocation (password change, device block).
	RevokeAllUserRefreshTokens(ctx context.Context, userID string, at time.Time, byIP, reason string) error

	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) error
}

type Sessions interface {
	CreateSession(ctx context.Context, s domain.Session) error

	GetSessionByID(ctx context.Context, id string) (domain.Session, error)

	// ListActiveSessions returns non-revoked sessions for a user ordered by
	// last_accessed_at ascending (least recently used first).
	ListActiveSessions(ctx context.Context, userID string) ([]domain.Session, error)

	CountActiveSessions(ctx context.Context, userID string, now time.Time) (int, error)

	// TouchSession updates last_accessed_at and, when extended, expires_at.
	TouchSession(ctx context.Context, id string, lastAccessed, expiresAt time.Time) error

	MarkSessionSuspicious(ctx context.Context, id string) error

	UpdateLastMFAVerification(ctx context.Context, id string, at time.Time) error

	// RevokeSession is conditional on the session still being active, which
	// makes the revoked state absorbing. Reports whether the row changed.
	RevokeSession(ctx context.Context, id, reason string) (bool, error)

	// RevokeUserSessions revokes every active session for a user except
	// keepID (pass "" to revoke all). Returns the number revoked.
	RevokeUserSessions(ctx context.Context, userID, keepID, reason string) (int, error)

	// RevokeSessionsByFingerprint revokes active sessions bound to a device.
	RevokeSessionsByFingerprint(ctx context.Context, userID, fingerprint, reason string) (int, error)

	// RevokeExpiredSessions sweeps sessions past expires_at that are still
	// marked active. Safe to run concurrently with validation.
	RevokeExpiredSessions(ctx context.Context, now time.Time, reason string) (int, error)
}

type Devices interface {
	GetDevice(ctx context.Context, userID, fingerprint string) (domain.DeviceFingerprint, error)

	// UpsertDeviceSeen records a sighting: inserts with first_seen=last_seen
	// or bumps last_seen on an existing row.
	UpsertDeviceSeen(ctx context.Context, userID, fingerprint string, seenAt time.Time) error

	SetDeviceTrusted(ctx context.Context, userID, fingerprint string, trusted bool) error

	SetDeviceBlocked(ctx context.Context, userID, fingerprint string, blocked bool) error
}

type Permissions interface {
	ListUserPermissions(ctx context.Context, userID string) ([]domain.UserPermission, error)
	ListRolePermissions(ctx context.Context, roleID string) ([]domain.RolePermission, error)
	ListLegacyRolePermissions(ctx context.Context, roleName string) ([]domain.LegacyRolePermission, error)
	ListDepartmentPermissions(ctx context.Context, departmentID string) ([]domain.DepartmentPermission, error)

	// Upsert*Permission creates the grant or re-activates an existing row
	// for the same (subject, permission) pair. Idempotent.
	UpsertUserPermission(ctx context.Context, p domain.UserPermission) error
	UpsertRolePermission(ctx context.Context, p domain.RolePermission) error
	UpsertLegacyRolePermission(ctx context.Context, p domain.LegacyRolePermission) error
	UpsertDepartmentPermission(ctx context.Context, p domain.DepartmentPermission) error

	// Set*PermissionGranted flips is_granted; revocation is a state change,
	// never a row deletion. Reports whether a matching row existed.
	SetUserPermissionGranted(ctx context.Context, userID, permission string, granted bool) (bool, error)
	SetRolePermissionGranted(ctx context.Context, roleID, permission string, granted bool) (bool, error)
	SetDepartmentPermissionGranted(ctx context.Context, departmentID, permission string, granted bool) (bool, error)
}
