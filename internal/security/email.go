package security

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// NormalizeEmail lowercases and trims the email. Every component keys on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HashEmail returns a SHA-256 hash of the normalized email, hex-encoded.
// Used as a pseudonymous storage and lock key. It is not secret and must never authorize anything alone.
func HashEmail(email string) string {
	h := sha256.Sum256([]byte(NormalizeEmail(email)))
	return hex.EncodeToString(h[:])
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidEmail reports whether email, once normalized, has a plausible address shape.
func ValidEmail(email string) bool {
	e := NormalizeEmail(email)
	return len(e) <= 254 && emailPattern.MatchString(e)
}
