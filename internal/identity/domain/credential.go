package domain

import "time"

// Credential holds a user's password hash. The hash is a PHC-encoded argon2id
// string carrying its own per-credential salt; legacy rows hold an unsalted
// SHA-256 hex digest until their next successful login upgrades them.
// Credentials are created at registration and mutated only by password change;
// they are never deleted (accounts deactivate instead).
type Credential struct {
	UserID       string
	PasswordHash string
	UpdatedAt    time.Time
}
