// Package audit records irreversible recovery actions.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"orphan-recovery/internal/audit/domain"
	auditrepo "orphan-recovery/internal/audit/repository"
	"orphan-recovery/internal/security"
)

// Event is one auditable action. Email is hashed before it is stored.
type Event struct {
	Action        string
	Email         string
	IdentityID    string
	CorrelationID string
	Metadata      string
}

// AuditLogger writes a single audit event. LogEvent is best-effort: failures are logged and do
// not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, ev Event)
}

// Logger implements AuditLogger using the audit repository.
type Logger struct {
	repo auditrepo.Repository
	log  *slog.Logger
	nowF func() time.Time
}

// NewLogger returns an AuditLogger that persists to repo. repo may be nil; then events are only logged.
func NewLogger(repo auditrepo.Repository, log *slog.Logger) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{repo: repo, log: log, nowF: time.Now}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, ev Event) {
	entry := &domain.AuditLog{
		ID:            uuid.New().String(),
		Action:        ev.Action,
		IdentityID:    ev.IdentityID,
		CorrelationID: ev.CorrelationID,
		Metadata:      ev.Metadata,
		CreatedAt:     l.nowF().UTC(),
	}
	if ev.Email != "" {
		entry.EmailHash = security.HashEmail(ev.Email)
	}
	l.log.InfoContext(ctx, "audit",
		"action", entry.Action,
		"email_hash", entry.EmailHash,
		"identity_id", entry.IdentityID,
		"correlation_id", entry.CorrelationID,
	)
	if l.repo == nil {
		return
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.log.ErrorContext(ctx, "audit: failed to log event",
			"action", entry.Action, "correlation_id", entry.CorrelationID, "error", err)
	}
}
