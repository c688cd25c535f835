package domain

import (
	"errors"
	"time"
)

var (
	// ErrInvalidCredentials is returned when the provider rejects the email/password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNotFound is returned when no identity exists for the lookup key.
	ErrNotFound = errors.New("identity not found")
	// ErrProviderUnavailable wraps transport failures and unexpected provider responses.
	ErrProviderUnavailable = errors.New("identity provider unavailable")
)

// Identity is an authenticated principal owned by the external identity provider.
// This service only reads identities and deletes orphaned ones.
type Identity struct {
	ID              string
	Email           string
	EmailVerified   bool
	EmailVerifiedAt *time.Time
	CreatedAt       time.Time
}

// Session is the result of a successful password sign-in.
type Session struct {
	Identity *Identity
	Token    string
}
