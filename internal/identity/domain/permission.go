package domain

import "time"

// Permission grants come in four variants, one per source the resolver
// consults. Revocation flips Granted to false rather than deleting the row,
// preserving the audit history.

type UserPermission struct {
	ID         string
	UserID     string
	Permission string
	Granted    bool
	ExpiresAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type RolePermission struct {
	ID         string
	RoleID     string
	Permission string
	Granted    bool
	ExpiresAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LegacyRolePermission keys on role name instead of role ID. It is consulted
// only for users that have no primary role assignment yet.
type LegacyRolePermission struct {
	ID         string
	RoleName   string
	Permission string
	Granted    bool
	ExpiresAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type DepartmentPermission struct {
	ID           string
	DepartmentID string
	Permission   string
	Granted      bool
	ExpiresAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// GrantEffective reports whether a grant row currently confers its permission.
func GrantEffective(granted bool, expiresAt *time.Time, now time.Time) bool {
	if !granted {
		return false
	}
	return expiresAt == nil || now.Before(*expiresAt)
}
