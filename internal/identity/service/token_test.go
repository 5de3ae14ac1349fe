package service

import (
	"context"
	"testing"
	"time"

	"github.com/cobaltline/identity/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestIssuePairProducesVerifiableAccessToken(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	svc := newTokenService(t, st, clock)
	svc.Signer.Now = clock.Now

	role := seedRole(t, st, clock, "analyst")
	user := seedUser(t, st, clock, "alice", "correct horse battery staple")
	require.NoError(t, st.Users().SetUserRole(ctx, user.ID, role.ID))
	user.RoleID = role.ID

	pair, err := svc.IssuePair(ctx, user, "sess-1", "192.0.2.10")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, "Bearer", pair.TokenType)
	require.Equal(t, int((15 * time.Minute).Seconds()), pair.ExpiresIn)

	claims, err := svc.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.Subject)
	require.Equal(t, "alice", claims.Username)
	require.Equal(t, "analyst", claims.Role)
	require.Equal(t, "dept-reporting", claims.DepartmentID)
	require.Equal(t, "sess-1", claims.SID)
	require.NotEmpty(t, claims.ID)

	// Only the fingerprint is stored, never the raw token.
	row, err := st.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(pair.RefreshToken))
	require.NoError(t, err)
	require.Equal(t, user.ID, row.UserID)
	require.Equal(t, "sess-1", row.SessionID)
	require.NotEqual(t, pair.RefreshToken, row.TokenHash)
	require.Equal(t, "192.0.2.10", row.CreatedByIP)
}

func TestRefreshRotatesAndLinksChain(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	svc := newTokenService(t, st, clock)
	svc.Signer.Now = clock.Now

	user := seedUser(t, st, clock, "alice", "pw")

	first, err := svc.IssuePair(ctx, user, "sess-1", "192.0.2.10")
	require.NoError(t, err)

	second, err := svc.Refresh(ctx, first.RefreshToken, "192.0.2.11")
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	require.NotEmpty(t, second.AccessToken)

	oldRow, err := st.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(first.RefreshToken))
	require.NoError(t, err)
	require.True(t, oldRow.Revoked)
	require.Equal(t, RevocationReasonRotated, oldRow.ReasonRevoked)
	require.NotEmpty(t, oldRow.ReplacedByID)

	newRow, err := st.RefreshTokens().GetRefreshTokenByID(ctx, oldRow.ReplacedByID)
	require.NoError(t, err)
	require.False(t, newRow.Revoked)
	require.Equal(t, cryptox.FingerprintToken(second.RefreshToken), newRow.TokenHash)
}

func TestRefreshUnknownToken(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	svc := newTokenService(t, st, clock)

	_, err := svc.Refresh(ctx, "never-issued", "192.0.2.10")
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRefreshExpiredToken(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	svc := newTokenService(t, st, clock)
	svc.Signer.Now = clock.Now

	user := seedUser(t, st, clock, "alice", "pw")
	pair, err := svc.IssuePair(ctx, user, "sess-1", "192.0.2.10")
	require.NoError(t, err)

	clock.Advance(7*24*time.Hour + time.Minute)

	_, err = svc.Refresh(ctx, pair.RefreshToken, "192.0.2.10")
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestRefreshReuseRevokesForwardChain(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	svc := newTokenService(t, st, clock)
	svc.Signer.Now = clock.Now

	user := seedUser(t, st, clock, "alice", "pw")

	// Build a rotation chain A -> B -> C.
	a, err := svc.IssuePair(ctx, user, "sess-1", "192.0.2.10")
	require.NoError(t, err)
	b, err := svc.Refresh(ctx, a.RefreshToken, "192.0.2.10")
	require.NoError(t, err)
	c, err := svc.Refresh(ctx, b.RefreshToken, "192.0.2.10")
	require.NoError(t, err)

	// Replaying A signals theft; every descendant must die with it.
	_, err = svc.Refresh(ctx, a.RefreshToken, "203.0.113.5")
	require.ErrorIs(t, err, ErrTokenReuseDetected)

	for _, token := range []string{b.RefreshToken, c.RefreshToken} {
		row, err := st.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(token))
		require.NoError(t, err)
		require.True(t, row.Revoked)
	}

	_, err = svc.Refresh(ctx, c.RefreshToken, "192.0.2.10")
	require.ErrorIs(t, err, ErrTokenRevoked)
}

func TestRevokeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	svc := newTokenService(t, st, clock)

	user := seedUser(t, st, clock, "alice", "pw")
	pair, err := svc.IssuePair(ctx, user, "sess-1", "192.0.2.10")
	require.NoError(t, err)

	revoked, err := svc.Revoke(ctx, pair.RefreshToken, "192.0.2.10", "Logout")
	require.NoError(t, err)
	require.True(t, revoked)

	revoked, err = svc.Revoke(ctx, pair.RefreshToken, "192.0.2.10", "Logout")
	require.NoError(t, err)
	require.False(t, revoked)

	revoked, err = svc.Revoke(ctx, "never-issued", "192.0.2.10", "Logout")
	require.NoError(t, err)
	require.False(t, revoked)
}

func TestRevokeAllForUser(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	svc := newTokenService(t, st, clock)

	alice := seedUser(t, st, clock, "alice", "pw")
	bob := seedUser(t, st, clock, "bob", "pw")

	alicePair, err := svc.IssuePair(ctx, alice, "sess-a", "192.0.2.10")
	require.NoError(t, err)
	bobPair, err := svc.IssuePair(ctx, bob, "sess-b", "192.0.2.20")
	require.NoError(t, err)

	require.NoError(t, svc.RevokeAllForUser(ctx, alice.ID, "192.0.2.10", "Password changed"))

	_, err = svc.Refresh(ctx, alicePair.RefreshToken, "192.0.2.10")
	require.ErrorIs(t, err, ErrTokenRevoked)

	// Another user's tokens are untouched.
	_, err = svc.Refresh(ctx, bobPair.RefreshToken, "192.0.2.20")
	require.NoError(t, err)
}

func TestRefreshDisabledAccount(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	svc := newTokenService(t, st, clock)
	svc.Signer.Now = clock.Now

	user := seedUser(t, st, clock, "alice", "pw")
	pair, err := svc.IssuePair(ctx, user, "sess-1", "192.0.2.10")
	require.NoError(t, err)

	require.NoError(t, st.Users().SetUserActive(ctx, user.ID, false))

	_, err = svc.Refresh(ctx, pair.RefreshToken, "192.0.2.10")
	require.ErrorIs(t, err, ErrAccountDisabled)
}
