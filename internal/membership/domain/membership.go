package domain

import (
	"time"
)

// Membership links an identity to an organization with a role.
// An identity with no memberships is missing orphan signal #2.
type Membership struct {
	ID         string
	IdentityID string
	OrgID      string
	Role       Role
	CreatedAt  time.Time
}

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)
