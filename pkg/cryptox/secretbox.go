package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
)

// SecretBox provides authenticated encryption (AES-256-GCM) for values that
// must be recoverable, such as TOTP secrets and MFA backup codes. Unlike the
// password pepper it is an injected value, so tests can construct boxes with
// fixed key material.
type SecretBox struct {
	key []byte
}

// NewSecretBox derives a 32-byte AES-256 key from arbitrary key material.
func NewSecretBox(keyMaterial []byte) *SecretBox {
	sum := sha256.Sum256(keyMaterial)
	return &SecretBox{key: sum[:]}
}

// NewSecretBoxFromFile loads key material from a file, generating it on first
// start the same way the pepper is provisioned.
func NewSecretBoxFromFile(path string) (*SecretBox, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		data = make([]byte, 32)
		if _, err := rand.Read(data); err != nil {
			return nil, fmt.Errorf("failed to generate master key: %w", err)
		}
		if err := os.WriteFile(path, data, 0600); err != nil {
			return nil, fmt.Errorf("failed to write master key file: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read master key file: %w", err)
	}
	return NewSecretBox(data), nil
}

// Encrypt seals plaintext with a random nonce. The output is base64url of
// [nonce][ciphertext][auth tag], so it can be stored in a TEXT column.
func (b *SecretBox) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt, verifying the auth tag.
func (b *SecretBox) Decrypt(encoded string) (string, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("malformed ciphertext: %w", err)
	}

	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}

	return string(plaintext), nil
}
