package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"orphan-recovery/internal/db"
)

const (
	// acquireSQL inserts the lock or takes over an expired one in a single statement.
	// The database clock decides expiry so instances with skewed clocks agree.
	acquireSQL = `INSERT INTO cleanup_locks (lock_key, holder, acquired_at, expires_at)
VALUES ($1, $2, now(), now() + $3::bigint * interval '1 millisecond')
ON CONFLICT (lock_key) DO UPDATE
SET holder = EXCLUDED.holder, acquired_at = EXCLUDED.acquired_at, expires_at = EXCLUDED.expires_at
WHERE cleanup_locks.expires_at <= now()`
	// releaseSQL removes the holder's row and reports whether it was still live. An expired row
	// that nobody has taken over is deleted but reported as not held.
	releaseSQL = `DELETE FROM cleanup_locks WHERE lock_key = $1 AND holder = $2 RETURNING expires_at > now()`
)

// PostgresStore keeps cleanup locks in the cleanup_locks table.
type PostgresStore struct {
	db db.DBTX
}

// NewPostgresStore returns a lock store that uses the given pool.
func NewPostgresStore(pool db.DBTX) *PostgresStore {
	return &PostgresStore{db: pool}
}

// TryAcquire reports whether the upsert wrote a row.
func (s *PostgresStore) TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	tag, err := s.db.Exec(ctx, acquireSQL, key, holder, ttl.Milliseconds())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Release deletes the row only if holder still owns it. It reports true only when the lock had not expired.
func (s *PostgresStore) Release(ctx context.Context, key, holder string) (bool, error) {
	var live bool
	err := s.db.QueryRow(ctx, releaseSQL, key, holder).Scan(&live)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return live, nil
}
