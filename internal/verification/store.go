// Package verification stores hashed cleanup codes and sweeps expired ones.
package verification

import (
	"context"

	"orphan-recovery/internal/verification/domain"
)

// Store persists verification code records. Implementations live in verification/repository.
type Store interface {
	// Put creates or atomically replaces the record for rec.EmailHash.
	Put(ctx context.Context, rec *domain.Record) error
	// Get returns the record for emailHash, or nil if absent or expired.
	Get(ctx context.Context, emailHash string) (*domain.Record, error)
	// Delete removes the record. Deleting an absent record is not an error.
	Delete(ctx context.Context, emailHash string) error
	// IncrementFailedAttempts bumps the wrong-code counter of a live record and returns the new count.
	// Returns 0 when no live record exists.
	IncrementFailedAttempts(ctx context.Context, emailHash string) (int, error)
	// SweepExpired deletes records whose expiry has passed and returns how many were removed.
	SweepExpired(ctx context.Context) (int64, error)
}
