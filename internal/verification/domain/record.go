package domain

import "time"

// DefaultTTL is the lifetime of an issued cleanup code.
const DefaultTTL = 5 * time.Minute

// Record is the stored proof of an issued cleanup code. At most one exists per email hash;
// issuing a new code replaces it. The plaintext code is never stored.
type Record struct {
	EmailHash      string
	CodeHash       []byte
	CodeSalt       []byte
	CorrelationID  string
	FailedAttempts int
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// Expired reports whether the record is no longer usable at now.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
