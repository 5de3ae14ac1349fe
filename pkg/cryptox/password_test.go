package cryptox

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	// Set up a temporary pepper file for testing
	tmpDir := os.TempDir()
	pepperPath := filepath.Join(tmpDir, "identity-test-pepper")
	SetPepperPath(pepperPath)

	os.Remove(pepperPath)
	defer os.Remove(pepperPath)

	os.Exit(m.Run())
}

func TestHashPassword_Format(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$argon2id$v=19$"))

	parts := strings.Split(hash, "$")
	require.Len(t, parts, 6)
	require.NotEmpty(t, parts[4], "salt should not be empty")
	require.NotEmpty(t, parts[5], "hash should not be empty")
}

func TestHashPassword_UniqueSalts(t *testing.T) {
	hash1, err := HashPassword("samepassword")
	require.NoError(t, err)
	hash2, err := HashPassword("samepassword")
	require.NoError(t, err)

	require.NotEqual(t, hash1, hash2, "per-credential salts must differ")
}

func TestVerifyPassword_RoundTrip(t *testing.T) {
	passwords := []string{
		"password123",
		"P@ssw0rd!#$%^&*()",
		strings.Repeat("a", 100),
		"",
		"   spaces   ",
	}

	for _, password := range passwords {
		hash, err := HashPassword(password)
		require.NoError(t, err)
		require.NoError(t, VerifyPassword(password, hash))
	}
}

func TestVerifyPassword_SingleBitMutation(t *testing.T) {
	password := "hunter2hunter2"
	hash, err := HashPassword(password)
	require.NoError(t, err)

	// Flip the low bit of each byte in turn; every mutation must fail.
	for i := range password {
		mutated := []byte(password)
		mutated[i] ^= 0x01
		require.ErrorIs(t, VerifyPassword(string(mutated), hash), ErrPasswordMismatch,
			"mutation at byte %d should not verify", i)
	}
}

func TestVerifyPassword_MalformedHashFailsClosed(t *testing.T) {
	hashes := []string{
		"$argon2id$v=19$m=19456,t=2,p=1$notbase64!!$AAAA",
		"$argon2id$v=19$m=19456,t=2,p=1$AAAA$notbase64!!",
		"$argon2id$v=19$garbage$AAAA$AAAA",
		"$argon2id$v=18$m=19456,t=2,p=1$AAAA$AAAA",
		"$argon2id$",
	}

	for _, h := range hashes {
		err := VerifyPassword("whatever", h)
		// Malformed hashes must be indistinguishable from a wrong password.
		require.ErrorIs(t, err, ErrPasswordMismatch, "hash %q", h)
	}
}

func TestVerifyPassword_LegacySHA256ReadPath(t *testing.T) {
	sum := sha256.Sum256([]byte("legacy-password"))
	digest := hex.EncodeToString(sum[:])

	require.NoError(t, VerifyPassword("legacy-password", digest))
	require.ErrorIs(t, VerifyPassword("wrong-password", digest), ErrPasswordMismatch)
	require.True(t, NeedsRehash(digest))

	modern, err := HashPassword("legacy-password")
	require.NoError(t, err)
	require.False(t, NeedsRehash(modern))
}
