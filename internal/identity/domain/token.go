package domain

import "time"

// TokenPair is what a successful login or refresh returns: the short-lived
// access token (JWT) and the opaque refresh token.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"` // typically "Bearer"
	ExpiresIn    int    `json:"expires_in"`           // seconds until access expiry
}

// RefreshToken models the stored refresh token record. Only the SHA-256
// fingerprint of the opaque value is persisted. ReplacedByID links each
// rotated-out token to its successor, forming the forward revocation chain
// used for reuse detection.
type RefreshToken struct {
	ID            string
	UserID        string
	SessionID     string
	TokenHash     string // base64url SHA-256 fingerprint of the opaque value
	IssuedAt      time.Time
	ExpiresAt     time.Time
	CreatedByIP   string
	Revoked       bool
	RevokedAt     *time.Time
	RevokedByIP   string
	ReasonRevoked string
	ReplacedByID  string // ID of the successor token; empty if never rotated
}

// Expired reports whether the token is past its expiry at the given instant.
func (t RefreshToken) Expired(now time.Time) bool { return now.After(t.ExpiresAt) }

// Usable reports whether the token may still be exchanged.
func (t RefreshToken) Usable(now time.Time) bool { return !t.Revoked && !t.Expired(now) }
