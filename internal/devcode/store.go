// Package devcode keeps plaintext cleanup codes by email hash for dev-only retrieval
// (GET /dev/recovery/code). It is never wired when APP_ENV=production.
package devcode

import (
	"context"
	"sync"
	"time"

	"orphan-recovery/internal/security"
)

// Store holds plain cleanup codes by normalized email hash. Not used in production.
type Store interface {
	// Put stores code for email until expiresAt, replacing any previous code.
	Put(ctx context.Context, email, code string, expiresAt time.Time)
	// Get returns the code for email if present and not expired. Returns ok false if missing or expired.
	Get(ctx context.Context, email string) (code string, ok bool)
	// Delete drops the code for email.
	Delete(ctx context.Context, email string)
}

type entry struct {
	code      string
	expiresAt time.Time
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemoryStore returns a new in-memory dev code store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]entry),
		nowF: time.Now,
	}
}

// Put stores code for email until expiresAt.
func (s *MemoryStore) Put(ctx context.Context, email, code string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[security.HashEmail(email)] = entry{code: code, expiresAt: expiresAt}
}

// Get returns the code for email if present and not expired.
func (s *MemoryStore) Get(ctx context.Context, email string) (string, bool) {
	key := security.HashEmail(email)
	s.mu.RLock()
	e, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !e.expiresAt.After(s.nowF()) {
		s.mu.Lock()
		delete(s.m, key)
		s.mu.Unlock()
		return "", false
	}
	return e.code, true
}

// Delete drops the code for email.
func (s *MemoryStore) Delete(ctx context.Context, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, security.HashEmail(email))
}
