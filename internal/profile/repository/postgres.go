package repository

import (
	"context"

	"orphan-recovery/internal/db"
	"orphan-recovery/internal/profile/domain"
)

const (
	existsSQL = `SELECT EXISTS (SELECT 1 FROM profiles WHERE identity_id = $1 LIMIT 1)`
	upsertSQL = `INSERT INTO profiles (identity_id, display_name, avatar_url, created_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (identity_id) DO UPDATE SET display_name = EXCLUDED.display_name, avatar_url = EXCLUDED.avatar_url`
	deleteByIdentitySQL = `DELETE FROM profiles WHERE identity_id = $1`
)

// PostgresRepository reads and writes profiles with pgx.
type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a profile repository that uses the given pool for persistence.
func NewPostgresRepository(pool db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: pool}
}

// Exists reports whether a profile row exists for the identity.
func (r *PostgresRepository) Exists(ctx context.Context, identityID string) (bool, error) {
	var ok bool
	if err := r.db.QueryRow(ctx, existsSQL, identityID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// Upsert creates the profile or updates its display fields.
func (r *PostgresRepository) Upsert(ctx context.Context, p *domain.Profile) error {
	_, err := r.db.Exec(ctx, upsertSQL, p.IdentityID, p.DisplayName, p.AvatarURL, p.CreatedAt)
	return err
}

// DeleteByIdentity removes every profile row of the identity and reports how many were deleted.
func (r *PostgresRepository) DeleteByIdentity(ctx context.Context, identityID string) (int64, error) {
	tag, err := r.db.Exec(ctx, deleteByIdentitySQL, identityID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
