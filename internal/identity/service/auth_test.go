package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cobaltline/identity/internal/identity/domain"
	"github.com/cobaltline/identity/internal/identity/store"
	"github.com/cobaltline/identity/internal/identity/throttle"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newAuthService(t *testing.T, st store.Store, clock *testClock) *AuthService {
	t.Helper()

	tokens := newTokenService(t, st, clock)
	tokens.Signer.Now = clock.Now

	return &AuthService{
		Store:    st,
		Tokens:   tokens,
		Sessions: newSessionService(st, clock),
		MFA:      newMFAService(st, clock),
		Now:      clock.Now,
	}
}

func TestLoginSuccess(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	svc := newAuthService(t, st, clock)

	user := seedUser(t, st, clock, "alice", "correct horse battery staple")

	result, err := svc.Login(ctx, "alice", "correct horse battery staple", "", testClient(), false)
	require.NoError(t, err)
	require.Equal(t, user.ID, result.User.ID)
	require.NotEmpty(t, result.Tokens.AccessToken)
	require.NotEmpty(t, result.Tokens.RefreshToken)
	require.NotEmpty(t, result.Session.ID)

	claims, err := svc.Tokens.VerifyAccess(result.Tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.Subject)
	require.Equal(t, result.Session.ID, claims.SID)
}

func TestLoginUniformCredentialFailure(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	svc := newAuthService(t, st, clock)

	seedUser(t, st, clock, "alice", "right password")

	// Unknown username and wrong password surface identically.
	_, err := svc.Login(ctx, "nobody", "whatever", "", testClient(), false)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "alice", "wrong password", "", testClient(), false)
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginDisabledAccount(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	svc := newAuthService(t, st, clock)

	user := seedUser(t, st, clock, "alice", "pw")
	require.NoError(t, st.Users().SetUserActive(ctx, user.ID, false))

	_, err := svc.Login(ctx, "alice", "pw", "", testClient(), false)
	require.ErrorIs(t, err, ErrAccountDisabled)
}

func TestLoginUpgradesLegacyHash(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	svc := newAuthService(t, st, clock)

	user := seedUser(t, st, clock, "alice", "placeholder")

	// Overwrite the credential with a pre-migration unsalted SHA-256 digest.
	sum := sha256.Sum256([]byte("old password"))
	require.NoError(t, st.Credentials().UpsertCredential(ctx, domain.Credential{
		UserID:       user.ID,
		PasswordHash: hex.EncodeToString(sum[:]),
		UpdatedAt:    clock.Now(),
	}))

	_, err := svc.Login(ctx, "alice", "old password", "", testClient(), false)
	require.NoError(t, err)

	cred, err := st.Credentials().GetCredential(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(cred.PasswordHash, "$argon2id$"))

	// The upgraded hash keeps working.
	_, err = svc.Login(ctx, "alice", "old password", "", testClient(), false)
	require.NoError(t, err)
}

func TestLoginWithMFA(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	svc := newAuthService(t, st, clock)

	user := seedUser(t, st, clock, "alice", "pw")
	secret, backupCodes := setupEnabledMFA(t, ctx, svc.MFA, clock, user.ID)

	_, err := svc.Login(ctx, "alice", "pw", "", testClient(), false)
	require.ErrorIs(t, err, ErrMFARequired)

	_, err = svc.Login(ctx, "alice", "pw", "000000", testClient(), false)
	require.ErrorIs(t, err, ErrInvalidMFACode)

	result, err := svc.Login(ctx, "alice", "pw", totpCode(t, secret, clock.Now()), testClient(), false)
	require.NoError(t, err)
	require.NotNil(t, result.Session.LastMFAVerification)

	// A backup code also satisfies the challenge.
	result, err = svc.Login(ctx, "alice", "pw", backupCodes[0], testClient(), false)
	require.NoError(t, err)
	require.NotEmpty(t, result.Tokens.AccessToken)
}

func TestLoginThrottledAfterRepeatedFailures(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	svc := newAuthService(t, st, clock)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	svc.Throttle = throttle.NewLoginThrottle(client, 3, 15*time.Minute)

	seedUser(t, st, clock, "alice", "right password")

	for range 3 {
		_, err := svc.Login(ctx, "alice", "wrong password", "", testClient(), false)
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// Even the correct password is refused while throttled.
	_, err := svc.Login(ctx, "alice", "right password", "", testClient(), false)
	require.ErrorIs(t, err, ErrTooManyAttempts)

	mr.FastForward(16 * time.Minute)

	result, err := svc.Login(ctx, "alice", "right password", "", testClient(), false)
	require.NoError(t, err)
	require.NotEmpty(t, result.Tokens.AccessToken)
}

func TestLogoutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	svc := newAuthService(t, st, clock)

	seedUser(t, st, clock, "alice", "pw")

	result, err := svc.Login(ctx, "alice", "pw", "", testClient(), false)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, result.Tokens.RefreshToken, result.Session.ID, "192.0.2.10"))
	require.NoError(t, svc.Logout(ctx, result.Tokens.RefreshToken, result.Session.ID, "192.0.2.10"))

	_, err = svc.Tokens.Refresh(ctx, result.Tokens.RefreshToken, "192.0.2.10")
	require.ErrorIs(t, err, ErrTokenRevoked)
	_, err = svc.Sessions.Validate(ctx, result.Session.ID, "192.0.2.10", testClient().UserAgent)
	require.ErrorIs(t, err, ErrSessionRevoked)
}

func TestChangePasswordRevokesOtherSessions(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	svc := newAuthService(t, st, clock)

	user := seedUser(t, st, clock, "alice", "old password")

	first, err := svc.Login(ctx, "alice", "old password", "", testClient(), false)
	require.NoError(t, err)
	second, err := svc.Login(ctx, "alice", "old password", "", testClient(), false)
	require.NoError(t, err)

	err = svc.ChangePassword(ctx, user.ID, "wrong", "new password", second.Session.ID, "192.0.2.10")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, svc.ChangePassword(ctx, user.ID, "old password", "new password", second.Session.ID, "192.0.2.10"))

	// The old session and all refresh tokens are gone; the current session
	// survives.
	_, err = svc.Sessions.Validate(ctx, first.Session.ID, "192.0.2.10", testClient().UserAgent)
	require.ErrorIs(t, err, ErrSessionRevoked)
	_, err = svc.Sessions.Validate(ctx, second.Session.ID, testClient().IPAddress, testClient().UserAgent)
	require.NoError(t, err)
	_, err = svc.Tokens.Refresh(ctx, second.Tokens.RefreshToken, "192.0.2.10")
	require.ErrorIs(t, err, ErrTokenRevoked)

	_, err = svc.Login(ctx, "alice", "old password", "", testClient(), false)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "alice", "new password", "", testClient(), false)
	require.NoError(t, err)
}
