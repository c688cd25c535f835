package repository

import (
	"context"
	"errors"

	"orphan-recovery/internal/db"
	"orphan-recovery/internal/verification/domain"

	"github.com/jackc/pgx/v5"
)

const (
	putSQL = `INSERT INTO verification_codes (email_hash, code_hash, code_salt, correlation_id, failed_attempts, expires_at, created_at)
VALUES ($1, $2, $3, $4, 0, $5, $6)
ON CONFLICT (email_hash) DO UPDATE
SET code_hash = EXCLUDED.code_hash, code_salt = EXCLUDED.code_salt, correlation_id = EXCLUDED.correlation_id,
    failed_attempts = 0, expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at`
	getSQL = `SELECT email_hash, code_hash, code_salt, correlation_id, failed_attempts, expires_at, created_at
FROM verification_codes WHERE email_hash = $1 AND expires_at > now()`
	deleteSQL    = `DELETE FROM verification_codes WHERE email_hash = $1`
	incrementSQL = `UPDATE verification_codes SET failed_attempts = failed_attempts + 1
WHERE email_hash = $1 AND expires_at > now() RETURNING failed_attempts`
	sweepSQL = `DELETE FROM verification_codes WHERE expires_at < now()`
)

// PostgresStore keeps verification records in the verification_codes table.
type PostgresStore struct {
	db db.DBTX
}

// NewPostgresStore returns a verification store that uses the given pool.
func NewPostgresStore(pool db.DBTX) *PostgresStore {
	return &PostgresStore{db: pool}
}

// Put upserts the record in one statement and resets the failed-attempt counter.
func (s *PostgresStore) Put(ctx context.Context, rec *domain.Record) error {
	_, err := s.db.Exec(ctx, putSQL, rec.EmailHash, rec.CodeHash, rec.CodeSalt, rec.CorrelationID, rec.ExpiresAt, rec.CreatedAt)
	return err
}

// Get returns the live record for emailHash, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (s *PostgresStore) Get(ctx context.Context, emailHash string) (*domain.Record, error) {
	var rec domain.Record
	err := s.db.QueryRow(ctx, getSQL, emailHash).Scan(
		&rec.EmailHash, &rec.CodeHash, &rec.CodeSalt, &rec.CorrelationID, &rec.FailedAttempts, &rec.ExpiresAt, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Delete removes the record for emailHash if present.
func (s *PostgresStore) Delete(ctx context.Context, emailHash string) error {
	_, err := s.db.Exec(ctx, deleteSQL, emailHash)
	return err
}

// IncrementFailedAttempts bumps the counter of a live record and returns it.
func (s *PostgresStore) IncrementFailedAttempts(ctx context.Context, emailHash string) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, incrementSQL, emailHash).Scan(&n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// SweepExpired deletes every expired record.
func (s *PostgresStore) SweepExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, sweepSQL)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
