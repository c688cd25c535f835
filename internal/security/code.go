package security

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

const (
	codeDigits = 6
	saltLen    = 16

	argonTime    = 2
	argonMemory  = 19 * 1024
	argonThreads = 1
	argonKeyLen  = 32
)

// GenerateCode returns a 6-digit numeric code (e.g. "048213").
// Digits are drawn uniformly from crypto/rand; bytes >= 250 are rejected to avoid modulo bias.
func GenerateCode() (string, error) {
	out := make([]byte, 0, codeDigits)
	buf := make([]byte, codeDigits*2)
	for len(out) < codeDigits {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= 250 {
				continue
			}
			out = append(out, '0'+b%10)
			if len(out) == codeDigits {
				break
			}
		}
	}
	return string(out), nil
}

// GenerateSalt returns 16 random bytes for HashCode.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// HashCode derives a digest of code with salt using argon2id.
// Deterministic for the same (code, salt); a different salt yields a different digest.
func HashCode(code string, salt []byte) []byte {
	return argon2.IDKey([]byte(code), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// ConstantTimeEquals compares a and b in constant time. Different lengths never match.
func ConstantTimeEquals(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// CodeMatches recomputes the digest of the submitted code with the stored salt and compares it to storedHash.
func CodeMatches(submitted string, salt, storedHash []byte) bool {
	return ConstantTimeEquals(HashCode(submitted, salt), storedHash)
}
