package domain

import "time"

// Audit actions recorded by the recovery flow.
const (
	ActionCleanupCodeIssued    = "cleanup_code_issued"
	ActionOrphanDeleted        = "orphan_identity_deleted"
	ActionCleanupCodeExhausted = "cleanup_code_exhausted"
)

// AuditLog represents an audit event. EmailHash is the SHA-256 of the normalized email; plaintext
// emails and codes are never stored.
type AuditLog struct {
	ID            string
	Action        string
	EmailHash     string
	IdentityID    string
	CorrelationID string
	Metadata      string
	CreatedAt     time.Time
}
