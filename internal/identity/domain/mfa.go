package domain

import "time"

// MFAEnrollment is the per-user TOTP state. A row with EnabledAt == nil is a
// pending setup; deleting the row returns the user to NotEnrolled.
type MFAEnrollment struct {
	UserID          string
	EncryptedSecret string // AES-GCM sealed base32 TOTP secret
	EnabledAt       *time.Time
	FailedAttempts  int
	LockedUntil     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Enabled reports whether the enrollment has been confirmed.
func (e MFAEnrollment) Enabled() bool { return e.EnabledAt != nil }

// Locked reports whether verification is currently locked out.
func (e MFAEnrollment) Locked(now time.Time) bool {
	return e.LockedUntil != nil && now.Before(*e.LockedUntil)
}

// BackupCode is a single-use recovery code, stored encrypted so the plaintext
// can be compared exactly after decryption.
type BackupCode struct {
	ID            string
	UserID        string
	EncryptedCode string
	CreatedAt     time.Time
}

// MFASetup is returned once from enrollment; the plaintext secret and codes
// are never retrievable again.
type MFASetup struct {
	Secret          string   // Base32 encoded secret for TOTP
	ProvisioningURI string   // otpauth:// URL for QR code generation
	BackupCodes     []string // Plaintext single-use codes, shown exactly once
	Issuer          string
	Account         string
}
