package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrAlgMismatch = errors.New("jwtx: algorithm mismatch")
	ErrInvalidSig  = errors.New("jwtx: invalid signature")
	ErrIssuer      = errors.New("jwtx: issuer mismatch")
	ErrAudience    = errors.New("jwtx: audience mismatch")
	ErrExpired     = errors.New("jwtx: token expired")
	ErrNotYetValid = errors.New("jwtx: token not yet valid")
)

// HS256 signs and verifies access tokens with a single shared secret.
// Expiry validation is strict: zero clock-skew leeway, and a token without an
// exp claim never verifies.
type HS256 struct {
	secret   []byte
	issuer   string
	audience []string

	// Now overrides the verification clock. Nil means time.Now.
	Now func() time.Time
}

// NewHS256 constructs a signer/verifier. The secret must be at least 32 bytes
// of high-entropy material.
func NewHS256(secret []byte, issuer string, audience []string) (*HS256, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwtx: signing secret must be at least 32 bytes, got %d", len(secret))
	}
	return &HS256{secret: secret, issuer: issuer, audience: audience}, nil
}

// Issuer returns the configured token issuer.
func (h *HS256) Issuer() string { return h.issuer }

// Audience returns the configured token audience.
func (h *HS256) Audience() []string { return h.audience }

// Sign produces a compact JWS for the given claims.
func (h *HS256) Sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.secret)
}

// Verify parses and validates a compact JWS, returning its claims.
func (h *HS256) Verify(tokenString string) (Claims, error) {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}

	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(now),
	)

	_, err := parser.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		return h.secret, nil
	})
	if err != nil {
		return Claims{}, mapParseError(err)
	}

	if err := claims.validateIssuer(h.issuer); err != nil {
		return Claims{}, err
	}
	if err := claims.validateAudience(h.audience); err != nil {
		return Claims{}, err
	}

	return claims, nil
}

// validateIssuer checks if the issuer matches expected value.
func (c *Claims) validateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// validateAudience checks if at least one expected audience is present.
func (c *Claims) validateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil // nothing to enforce
	}
	for _, want := range expected {
		for _, have := range c.Audience {
			if have == want {
				return nil
			}
		}
	}
	return ErrAudience
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrNotYetValid
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSig
	case errors.Is(err, jwt.ErrTokenUnverifiable), errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
