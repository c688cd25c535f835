package domain

import "time"

// Profile is the per-identity companion record created at the end of registration.
// An identity without a profile is missing orphan signal #1.
type Profile struct {
	IdentityID  string
	DisplayName string
	AvatarURL   string
	CreatedAt   time.Time
}
