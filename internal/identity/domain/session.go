package domain

import "time"

// Revocation reasons written to session records. Kept as constants because
// tests and forensics match on them.
const (
	SessionReasonLimitExceeded = "Session limit exceeded"
	SessionReasonExpired       = "expired"
	SessionReasonLogout        = "logout"
	SessionReasonDeviceBlocked = "Device blocked"
)

// Session is a server-side login record. Revoked is an absorbing state: once
// set it is never cleared, and every mutation path checks it first.
type Session struct {
	ID                  string
	UserID              string
	DeviceFingerprint   string
	IPAddress           string
	UserAgent           string
	DeviceType          string
	RememberMe          bool
	CreatedAt           time.Time
	LastAccessedAt      time.Time
	ExpiresAt           time.Time
	Revoked             bool
	RevocationReason    string
	Suspicious          bool
	LastMFAVerification *time.Time
}

// Expired reports whether the session is past its expiry at the given instant.
func (s Session) Expired(now time.Time) bool { return now.After(s.ExpiresAt) }

// Active reports whether the session can still validate requests.
func (s Session) Active(now time.Time) bool { return !s.Revoked && !s.Expired(now) }

// ClientInfo carries the per-request client signals used for session binding
// and anomaly detection.
type ClientInfo struct {
	Fingerprint string
	IPAddress   string
	UserAgent   string
}
