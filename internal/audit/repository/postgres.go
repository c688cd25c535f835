package repository

import (
	"context"

	"orphan-recovery/internal/audit/domain"
	"orphan-recovery/internal/db"
)

const (
	createSQL = `INSERT INTO audit_logs (id, action, email_hash, identity_id, correlation_id, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	listByEmailHashSQL = `SELECT id, action, email_hash, identity_id, correlation_id, metadata, created_at
FROM audit_logs WHERE email_hash = $1 ORDER BY created_at DESC LIMIT $2`
)

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
}

// PostgresRepository appends audit logs with pgx.
type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns an audit log repository that uses the given pool for persistence.
func NewPostgresRepository(pool db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: pool}
}

// Create persists a. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	_, err := r.db.Exec(ctx, createSQL, a.ID, a.Action, a.EmailHash, a.IdentityID, a.CorrelationID, a.Metadata, a.CreatedAt)
	return err
}

// ListByEmailHash returns the newest audit logs for emailHash, at most limit rows.
func (r *PostgresRepository) ListByEmailHash(ctx context.Context, emailHash string, limit int32) ([]*domain.AuditLog, error) {
	rows, err := r.db.Query(ctx, listByEmailHashSQL, emailHash, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AuditLog
	for rows.Next() {
		a := &domain.AuditLog{}
		if err := rows.Scan(&a.ID, &a.Action, &a.EmailHash, &a.IdentityID, &a.CorrelationID, &a.Metadata, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
