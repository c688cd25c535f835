package repository

import (
	"context"

	"orphan-recovery/internal/db"
	"orphan-recovery/internal/membership/domain"
)

const (
	existsSQL = `SELECT EXISTS (SELECT 1 FROM memberships WHERE identity_id = $1 LIMIT 1)`
	createSQL = `INSERT INTO memberships (id, identity_id, org_id, role, created_at) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (identity_id, org_id) DO NOTHING`
	deleteByIdentitySQL = `DELETE FROM memberships WHERE identity_id = $1`
)

// PostgresRepository reads and writes memberships with pgx.
type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a membership repository that uses the given pool for persistence.
func NewPostgresRepository(pool db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: pool}
}

// Exists reports whether the identity has at least one membership.
func (r *PostgresRepository) Exists(ctx context.Context, identityID string) (bool, error) {
	var ok bool
	if err := r.db.QueryRow(ctx, existsSQL, identityID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// Create persists m. The membership must have ID set. An existing (identity, org) pair is left unchanged.
func (r *PostgresRepository) Create(ctx context.Context, m *domain.Membership) error {
	_, err := r.db.Exec(ctx, createSQL, m.ID, m.IdentityID, m.OrgID, string(m.Role), m.CreatedAt)
	return err
}

// DeleteByIdentity removes every membership row of the identity and reports how many were deleted.
func (r *PostgresRepository) DeleteByIdentity(ctx context.Context, identityID string) (int64, error) {
	tag, err := r.db.Exec(ctx, deleteByIdentitySQL, identityID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
