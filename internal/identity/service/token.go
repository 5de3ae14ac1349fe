package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cobaltline/identity/internal/identity/audit"
	"github.com/cobaltline/identity/internal/identity/domain"
	"github.com/cobaltline/identity/internal/identity/store"
	"github.com/cobaltline/identity/pkg/cryptox"
	"github.com/cobaltline/identity/pkg/idx"
	"github.com/cobaltline/identity/pkg/jwtx"
	"github.com/cobaltline/identity/pkg/slogx"
)

const (
	// RevocationReasonRotated marks the old token of a successful rotation.
	RevocationReasonRotated = "Token refresh"

	// RevocationReasonReuse marks descendants revoked after a replay.
	RevocationReasonReuse = "Reuse detected"
)

// TokenService issues and rotates token pairs. Access tokens are signed JWTs;
// refresh tokens are opaque values stored only as SHA-256 fingerprints.
type TokenService struct {
	Store      store.Store
	Signer     *jwtx.HS256
	Audit      audit.Sink
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Now overrides the clock for tests. Nil means time.Now.
	Now func() time.Time
}

func (s *TokenService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *TokenService) emit(ctx context.Context, e audit.Event) {
	if s.Audit == nil {
		return
	}
	e.Timestamp = s.now()
	s.Audit.Emit(ctx, e)
}

func (s *TokenService) accessTTL() time.Duration {
	if s.AccessTTL > 0 {
		return s.AccessTTL
	}
	return jwtx.DefaultAccessTokenTTL
}

func (s *TokenService) refreshTTL() time.Duration {
	if s.RefreshTTL > 0 {
		return s.RefreshTTL
	}
	return jwtx.DefaultRefreshTokenTTL
}

// roleName resolves the display role for access-token claims: the primary
// role's name when assigned, the legacy role name otherwise.
func (s *TokenService) roleName(ctx context.Context, u domain.User) (string, error) {
	if u.RoleID == "" {
		return u.LegacyRole, nil
	}
	role, err := s.Store.Roles().GetRoleByID(ctx, u.RoleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return u.LegacyRole, nil
		}
		return "", fmt.Errorf("resolve role: %w", err)
	}
	return role.Name, nil
}

// IssuePair signs an access token and persists a fresh refresh token for the
// user. Both halves are always issued together.
func (s *TokenService) IssuePair(ctx context.Context, u domain.User, sessionID, ip string) (domain.TokenPair, error) {
	now := s.now()

	role, err := s.roleName(ctx, u)
	if err != nil {
		return domain.TokenPair{}, err
	}

	claims := jwtx.NewAccessClaims(u.ID, u.Username, role, u.DepartmentID, sessionID,
		s.accessTTL(), s.Signer.Issuer(), s.Signer.Audience(), now)
	accessToken, err := s.Signer.Sign(claims)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}

	refreshToken, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("generate refresh token: %w", err)
	}

	row := domain.RefreshToken{
		ID:          idx.New().String(),
		UserID:      u.ID,
		SessionID:   sessionID,
		TokenHash:   cryptox.FingerprintToken(refreshToken),
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.refreshTTL()),
		CreatedByIP: ip,
	}
	if err := s.Store.RefreshTokens().CreateRefreshToken(ctx, row); err != nil {
		return domain.TokenPair{}, fmt.Errorf("persist refresh token: %w", err)
	}

	s.emit(ctx, audit.Event{
		Action:    "token_issued",
		Resource:  row.ID,
		UserID:    u.ID,
		SessionID: sessionID,
		IP:        ip,
		Success:   true,
		Severity:  audit.SeverityInfo,
	})

	return domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.accessTTL().Seconds()),
	}, nil
}

// Refresh rotates a refresh token. Presenting a token that was already
// rotated is treated as theft: the entire forward chain descending from it
// is revoked and ErrTokenReuseDetected is returned.
func (s *TokenService) Refresh(ctx context.Context, oldToken, ip string) (domain.TokenPair, error) {
	now := s.now()
	l := slogx.FromContext(ctx)

	current, err := s.Store.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(oldToken))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TokenPair{}, ErrTokenInvalid
		}
		return domain.TokenPair{}, err
	}

	if current.Revoked {
		if current.ReplacedByID != "" {
			if err := s.revokeChain(ctx, current, ip); err != nil {
				l.Error("failed to revoke token chain after reuse", "error", err)
			}
			s.emit(ctx, audit.Event{
				Action:        "token_reuse_detected",
				Resource:      current.ID,
				UserID:        current.UserID,
				SessionID:     current.SessionID,
				IP:            ip,
				Success:       false,
				FailureReason: "rotated token replayed",
				Severity:      audit.SeverityCritical,
			})
			return domain.TokenPair{}, ErrTokenReuseDetected
		}
		return domain.TokenPair{}, ErrTokenRevoked
	}

	if current.Expired(now) {
		return domain.TokenPair{}, ErrTokenExpired
	}

	user, err := s.Store.Users().GetUserByID(ctx, current.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TokenPair{}, ErrTokenInvalid
		}
		return domain.TokenPair{}, err
	}
	if !user.Active {
		return domain.TokenPair{}, ErrAccountDisabled
	}

	role, err := s.roleName(ctx, user)
	if err != nil {
		return domain.TokenPair{}, err
	}

	claims := jwtx.NewAccessClaims(user.ID, user.Username, role, user.DepartmentID,
		current.SessionID, s.accessTTL(), s.Signer.Issuer(), s.Signer.Audience(), now)
	accessToken, err := s.Signer.Sign(claims)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}

	newRefresh, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("generate refresh token: %w", err)
	}

	next := domain.RefreshToken{
		ID:          idx.New().String(),
		UserID:      current.UserID,
		SessionID:   current.SessionID,
		TokenHash:   cryptox.FingerprintToken(newRefresh),
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.refreshTTL()),
		CreatedByIP: ip,
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		rotated, err := tx.RefreshTokens().RevokeRefreshToken(ctx, current.ID, now, ip, RevocationReasonRotated, next.ID)
		if err != nil {
			return err
		}
		if !rotated {
			// Lost a race with a concurrent rotation of the same token.
			return ErrTokenRevoked
		}
		return tx.RefreshTokens().CreateRefreshToken(ctx, next)
	})
	if err != nil {
		return domain.TokenPair{}, err
	}

	s.emit(ctx, audit.Event{
		Action:    "token_refreshed",
		Resource:  next.ID,
		UserID:    user.ID,
		SessionID: current.SessionID,
		IP:        ip,
		Success:   true,
		Severity:  audit.SeverityInfo,
	})

	return domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: newRefresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.accessTTL().Seconds()),
	}, nil
}

// revokeChain walks replaced_by links forward from a replayed token and
// revokes every still-usable descendant.
func (s *TokenService) revokeChain(ctx context.Context, from domain.RefreshToken, ip string) error {
	now := s.now()

	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		id := from.ReplacedByID
		for id != "" {
			t, err := tx.RefreshTokens().GetRefreshTokenByID(ctx, id)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return nil
				}
				return err
			}
			if _, err := tx.RefreshTokens().RevokeRefreshToken(ctx, t.ID, now, ip, RevocationReasonReuse, ""); err != nil {
				return err
			}
			id = t.ReplacedByID
		}
		return nil
	})
}

// Revoke marks a refresh token revoked. Revoking an unknown or already
// revoked token reports false with no error, so logout is idempotent.
func (s *TokenService) Revoke(ctx context.Context, token, ip, reason string) (bool, error) {
	row, err := s.Store.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	revoked, err := s.Store.RefreshTokens().RevokeRefreshToken(ctx, row.ID, s.now(), ip, reason, "")
	if err != nil {
		return false, err
	}
	if revoked {
		s.emit(ctx, audit.Event{
			Action:    "token_revoked",
			Resource:  row.ID,
			UserID:    row.UserID,
			SessionID: row.SessionID,
			IP:        ip,
			Success:   true,
			Severity:  audit.SeverityInfo,
			Details:   map[string]string{"reason": reason},
		})
	}
	return revoked, nil
}

// RevokeAllForUser revokes every usable refresh token the user holds. Used
// on password change and device block.
func (s *TokenService) RevokeAllForUser(ctx context.Context, userID, ip, reason string) error {
	if err := s.Store.RefreshTokens().RevokeAllUserRefreshTokens(ctx, userID, s.now(), ip, reason); err != nil {
		return err
	}
	s.emit(ctx, audit.Event{
		Action:   "tokens_revoked_all",
		UserID:   userID,
		IP:       ip,
		Success:  true,
		Severity: audit.SeverityWarning,
		Details:  map[string]string{"reason": reason},
	})
	return nil
}

// VerifyAccess validates a signed access token and returns its claims.
func (s *TokenService) VerifyAccess(tokenString string) (jwtx.Claims, error) {
	return s.Signer.Verify(tokenString)
}
