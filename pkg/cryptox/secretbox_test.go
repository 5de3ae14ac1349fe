package cryptox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSecretBox_RoundTrip(t *testing.T) {
	box := NewSecretBox([]byte("test-master-key"))

	sealed, err := box.Encrypt("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	require.NotEqual(t, "JBSWY3DPEHPK3PXP", sealed)

	plain, err := box.Decrypt(sealed)
	require.NoError(t, err)
	require.Equal(t, "JBSWY3DPEHPK3PXP", plain)
}

func TestSecretBox_NonceUniqueness(t *testing.T) {
	box := NewSecretBox([]byte("test-master-key"))

	a, err := box.Encrypt("same-value")
	require.NoError(t, err)
	b, err := box.Encrypt("same-value")
	require.NoError(t, err)

	require.NotEqual(t, a, b, "each encryption must use a fresh nonce")
}

func TestSecretBox_WrongKeyFails(t *testing.T) {
	box := NewSecretBox([]byte("key-one"))
	other := NewSecretBox([]byte("key-two"))

	sealed, err := box.Encrypt("secret")
	require.NoError(t, err)

	_, err = other.Decrypt(sealed)
	require.Error(t, err)
}

func TestSecretBox_TamperedCiphertextFails(t *testing.T) {
	box := NewSecretBox([]byte("key"))

	sealed, err := box.Encrypt("secret")
	require.NoError(t, err)

	tampered := []byte(sealed)
	tampered[len(tampered)-1] ^= 'x'
	_, err = box.Decrypt(string(tampered))
	require.Error(t, err)

	_, err = box.Decrypt("too-short")
	require.Error(t, err)
}

func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken(TokenSize256)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	token2, err := GenerateToken(TokenSize256)
	require.NoError(t, err)
	require.NotEqual(t, token, token2, "tokens should be unique")

	_, err = GenerateToken(0)
	require.Error(t, err)
	_, err = GenerateToken(-1)
	require.Error(t, err)
}

func TestFingerprintToken_Deterministic(t *testing.T) {
	token, err := GenerateToken(TokenSize256)
	require.NoError(t, err)

	require.Equal(t, FingerprintToken(token), FingerprintToken(token))
	require.NotEqual(t, FingerprintToken(token), FingerprintToken(token+"x"))
}
