// Package lock provides the per-email cleanup lock shared by every service instance.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"orphan-recovery/internal/security"
)

// DefaultTTL is how long a lock survives if its holder never releases it.
const DefaultTTL = 30 * time.Second

const keyPrefix = "cleanup_lock:"

// Store is an atomic lock backend. TryAcquire must be a single conditional write:
// it succeeds iff no unexpired lock exists for key. Release deletes only when holder matches.
type Store interface {
	TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, holder string) (bool, error)
}

// Manager hands out at most one active cleanup lock per normalized email.
type Manager struct {
	store Store
	ttl   time.Duration
	log   *slog.Logger
}

// NewManager returns a Manager over store. ttl <= 0 uses DefaultTTL.
func NewManager(store Store, ttl time.Duration, log *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{store: store, ttl: ttl, log: log}
}

// Key returns the lock key for email: cleanup_lock:<sha256(normalized email)>.
func Key(email string) string {
	return keyPrefix + security.HashEmail(email)
}

// Acquire tries to take the lock for email on behalf of correlationID.
// Returns false, nil when another holder has it; that is an expected outcome, not an error.
func (m *Manager) Acquire(ctx context.Context, email, correlationID string) (bool, error) {
	ok, err := m.store.TryAcquire(ctx, Key(email), correlationID, m.ttl)
	if err != nil {
		return false, fmt.Errorf("lock: acquire: %w", err)
	}
	return ok, nil
}

// Release drops the lock for email if correlationID still holds it.
// Returns false (and logs a warning) when the lock is not held by correlationID, e.g. after TTL expiry.
func (m *Manager) Release(ctx context.Context, email, correlationID string) (bool, error) {
	key := Key(email)
	ok, err := m.store.Release(ctx, key, correlationID)
	if err != nil {
		return false, fmt.Errorf("lock: release: %w", err)
	}
	if !ok {
		m.log.WarnContext(ctx, "lock: release of lock not held by caller",
			"lock_key", key, "correlation_id", correlationID)
	}
	return ok, nil
}

// TTL returns the lock lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}
