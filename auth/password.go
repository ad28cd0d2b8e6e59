package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters based on OWASP recommendations.
const (
	memory      = 19 * 1024 // KiB
	iterations  = 2
	parallelism = 1
	saltLength  = 16
	keyLength   = 32
)

// Argon2Hasher is the default PasswordHasher. Each hash carries its own
// random salt and parameters, so identical passwords produce different
// digests and old hashes stay verifiable after a parameter change.
type Argon2Hasher struct{}

func (Argon2Hasher) Hash(password string) (string, error) {
	return HashPassword(password)
}

func (Argon2Hasher) Compare(password, encodedHash string) (bool, error) {
	return ComparePassword(password, encodedHash)
}

// HashPassword generates an Argon2id hash from a plaintext password,
// encoded with its salt and parameters for later verification.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, keyLength)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, memory, iterations, parallelism, b64Salt, b64Hash), nil
}

// ComparePassword compares a plaintext password with a stored encoded hash.
// The comparison is constant-time with respect to the digest.
func ComparePassword(password, encodedHash string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return false, errors.New("invalid hash format")
	}

	var version, mem, iter, par int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, err
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iter, &par); err != nil {
		return false, err
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, err
	}
	stored, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), salt,
		uint32(iter), uint32(mem), uint8(par), uint32(len(stored)))

	return subtle.ConstantTimeCompare(stored, computed) == 1, nil
}
