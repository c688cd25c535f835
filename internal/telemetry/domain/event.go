package domain

import "time"

// Recovery event types.
const (
	EventOrphanDetected        = "orphan_detected"
	EventClassificationDegrade = "classification_degraded"
	EventCleanupCodeIssued     = "cleanup_code_issued"
	EventCleanupRejected       = "cleanup_rejected"
	EventCleanupCompleted      = "cleanup_completed"
)

// Event is a recovery telemetry event. Emails appear only as EmailHash.
type Event struct {
	EventType     string            `json:"eventType"`
	Source        string            `json:"source"`
	CorrelationID string            `json:"correlationId,omitempty"`
	EmailHash     string            `json:"emailHash,omitempty"`
	IdentityID    string            `json:"identityId,omitempty"`
	Outcome       string            `json:"outcome,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
}
