package domain

import "time"

type User struct {
	ID           string
	Username     string
	DisplayName  string
	RoleID       string // Foreign key to roles table; empty for not-yet-migrated users
	LegacyRole   string // Role name from the pre-migration model; only consulted when RoleID is empty
	DepartmentID string
	Active       bool // Accounts are deactivated, never deleted
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Role struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}
