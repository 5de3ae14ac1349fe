package jwtx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestSigner(t *testing.T) *HS256 {
	t.Helper()
	h, err := NewHS256(testSecret, "identity-core", []string{"reporting-platform"})
	require.NoError(t, err)
	return h
}

func TestNewHS256_RejectsShortSecret(t *testing.T) {
	_, err := NewHS256([]byte("short"), "iss", nil)
	require.Error(t, err)
}

func TestHS256_SignVerifyRoundTrip(t *testing.T) {
	h := newTestSigner(t)
	now := time.Now()

	claims := NewAccessClaims(
		"user-1", "alice", "analyst", "dept-7", "sess-1",
		15*time.Minute, "identity-core", []string{"reporting-platform"}, now,
	)

	token, err := h.Sign(claims)
	require.NoError(t, err)

	got, err := h.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", got.Subject)
	require.Equal(t, "alice", got.Username)
	require.Equal(t, "analyst", got.Role)
	require.Equal(t, "dept-7", got.DepartmentID)
	require.Equal(t, "sess-1", got.SID)
	require.NotEmpty(t, got.ID, "jti must be populated")
}

func TestHS256_ExpiredTokenZeroLeeway(t *testing.T) {
	h := newTestSigner(t)

	issued := time.Now().Add(-16 * time.Minute)
	claims := NewAccessClaims(
		"user-1", "alice", "analyst", "", "sess-1",
		15*time.Minute, "identity-core", []string{"reporting-platform"}, issued,
	)

	token, err := h.Sign(claims)
	require.NoError(t, err)

	_, err = h.Verify(token)
	require.ErrorIs(t, err, ErrExpired)
}

func TestHS256_ExpiryBoundaryIsStrict(t *testing.T) {
	h := newTestSigner(t)

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	claims := NewAccessClaims(
		"user-1", "alice", "analyst", "", "sess-1",
		15*time.Minute, "identity-core", []string{"reporting-platform"}, issued,
	)
	token, err := h.Sign(claims)
	require.NoError(t, err)

	// One second before expiry: valid.
	h.Now = func() time.Time { return issued.Add(15*time.Minute - time.Second) }
	_, err = h.Verify(token)
	require.NoError(t, err)

	// One second past expiry: rejected, no grace window.
	h.Now = func() time.Time { return issued.Add(15*time.Minute + time.Second) }
	_, err = h.Verify(token)
	require.ErrorIs(t, err, ErrExpired)
}

func TestHS256_WrongIssuerAndAudience(t *testing.T) {
	h := newTestSigner(t)
	now := time.Now()

	badIssuer := NewAccessClaims(
		"user-1", "alice", "analyst", "", "s",
		15*time.Minute, "someone-else", []string{"reporting-platform"}, now,
	)
	token, err := h.Sign(badIssuer)
	require.NoError(t, err)
	_, err = h.Verify(token)
	require.ErrorIs(t, err, ErrIssuer)

	badAudience := NewAccessClaims(
		"user-1", "alice", "analyst", "", "s",
		15*time.Minute, "identity-core", []string{"other-system"}, now,
	)
	token, err = h.Sign(badAudience)
	require.NoError(t, err)
	_, err = h.Verify(token)
	require.ErrorIs(t, err, ErrAudience)
}

func TestHS256_TamperedTokenRejected(t *testing.T) {
	h := newTestSigner(t)

	claims := NewAccessClaims(
		"user-1", "alice", "analyst", "", "s",
		15*time.Minute, "identity-core", []string{"reporting-platform"}, time.Now(),
	)
	token, err := h.Sign(claims)
	require.NoError(t, err)

	tampered := token[:len(token)-2] + "xx"
	_, err = h.Verify(tampered)
	require.Error(t, err)

	_, err = h.Verify("not-a-jwt")
	require.ErrorIs(t, err, ErrMalformed)
}

func TestHS256_WrongKeyRejected(t *testing.T) {
	h := newTestSigner(t)
	other, err := NewHS256([]byte("ffffffffffffffffffffffffffffffff"), "identity-core", []string{"reporting-platform"})
	require.NoError(t, err)

	claims := NewAccessClaims(
		"user-1", "alice", "analyst", "", "s",
		15*time.Minute, "identity-core", []string{"reporting-platform"}, time.Now(),
	)
	token, err := other.Sign(claims)
	require.NoError(t, err)

	_, err = h.Verify(token)
	require.ErrorIs(t, err, ErrInvalidSig)
}
