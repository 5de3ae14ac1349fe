package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters. These follow the OWASP minimum-cost configuration and
// are encoded into every hash, so they can be raised without breaking
// verification of existing credentials.
const (
	memory      = 19 * 1024 // Memory usage in KiB (19 MiB)
	iterations  = 2         // Iteration count
	parallelism = 1         // Number of threads
	keyLength   = 32        // Length of the generated hash
	saltLength  = 16        // Length of the salt
)

const argon2idPrefix = "$argon2id$"

// ErrPasswordMismatch is returned for every verification failure, including
// malformed stored hashes. Callers must not be able to distinguish a corrupt
// salt from a wrong password.
var ErrPasswordMismatch = errors.New("cryptox: password does not match")

// HashPassword generates a PHC-format Argon2id hash string including salt and
// parameters. The process-wide pepper is mixed into the password before
// hashing.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey(
		[]byte(password+GetPepper()),
		salt,
		iterations,
		memory,
		parallelism,
		keyLength,
	)
	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	return fmt.Sprintf(
		"$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		memory,
		iterations,
		parallelism,
		b64Salt,
		b64Hash,
	), nil
}

// VerifyPassword compares a plaintext password against a stored hash.
//
// Argon2id hashes are recomputed with the embedded salt and parameters and
// compared in constant time. Hashes that do not carry the argon2id prefix are
// treated as legacy unsalted SHA-256 digests (read path only; new credentials
// are always argon2id). Every failure mode collapses to ErrPasswordMismatch.
func VerifyPassword(password, encodedHash string) error {
	if !strings.HasPrefix(encodedHash, argon2idPrefix) {
		return verifyLegacySHA256(password, encodedHash)
	}

	parts := strings.Split(encodedHash, "$")

	// Expected: ["", "argon2id", "v=19", "m=X,t=Y,p=Z", "salt", "hash"]
	if len(parts) != 6 || parts[2] != "v=19" {
		return ErrPasswordMismatch
	}

	var mem, iters uint32
	var par uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iters, &par); err != nil {
		return ErrPasswordMismatch
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return ErrPasswordMismatch
	}
	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return ErrPasswordMismatch
	}
	if len(expectedHash) == 0 {
		return ErrPasswordMismatch
	}

	computed := argon2.IDKey(
		[]byte(password+GetPepper()),
		salt,
		iters,
		mem,
		par,
		uint32(len(expectedHash)), // #nosec G115 - hash lengths are bounded by the encoding
	)

	if subtle.ConstantTimeCompare(computed, expectedHash) == 1 {
		return nil
	}
	return ErrPasswordMismatch
}

// NeedsRehash reports whether a stored hash is a legacy digest that should be
// replaced with argon2id on the next successful verification.
func NeedsRehash(encodedHash string) bool {
	return !strings.HasPrefix(encodedHash, argon2idPrefix)
}

// verifyLegacySHA256 is the read path for not-yet-migrated credentials stored
// as unsalted hex SHA-256 digests. It exists purely so those accounts can log
// in once more and be upgraded; never use it for new credentials.
func verifyLegacySHA256(password, hexDigest string) error {
	expected, err := hex.DecodeString(strings.TrimSpace(hexDigest))
	if err != nil || len(expected) != sha256.Size {
		return ErrPasswordMismatch
	}
	sum := sha256.Sum256([]byte(password))
	if subtle.ConstantTimeCompare(sum[:], expected) == 1 {
		return nil
	}
	return ErrPasswordMismatch
}

// DummyVerify burns the same argon2id work as a real verification. Called when
// the username is unknown so that response timing does not reveal whether an
// account exists.
func DummyVerify(password string) {
	salt := make([]byte, saltLength)
	_ = argon2.IDKey([]byte(password+GetPepper()), salt, iterations, memory, parallelism, keyLength)
}
