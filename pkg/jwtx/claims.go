package jwtx

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Default token TTL constants. These provide sensible security defaults but
// can be overridden per-service.
const (
	// DefaultAccessTokenTTL is the default lifetime for access tokens.
	DefaultAccessTokenTTL = 15 * time.Minute

	// DefaultRefreshTokenTTL is the default lifetime for refresh tokens.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Claims are the access-token claims carried by every signed token. Changes
// must stay additive to preserve compatibility with already-issued tokens.
type Claims struct {
	jwt.RegisteredClaims

	// Username of the authenticated user.
	Username string `json:"username,omitempty"`

	// Role is the primary role name resolved at issuance.
	Role string `json:"role,omitempty"`

	// DepartmentID scopes department-level permission checks.
	DepartmentID string `json:"department_id,omitempty"`

	// SID ties the token to its originating session record.
	SID string `json:"sid,omitempty"`
}

// NewAccessClaims builds minimally-correct claims for an access token.
func NewAccessClaims(
	subject, username, role, departmentID, sid string,
	ttl time.Duration,
	issuer string,
	audience []string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings(audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Username:     username,
		Role:         role,
		DepartmentID: departmentID,
		SID:          sid,
	}
}
