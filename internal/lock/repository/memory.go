package repository

import (
	"context"
	"sync"
	"time"
)

type memLock struct {
	holder    string
	expiresAt time.Time
}

// MemoryStore is a single-process lock store for tests and local development.
// It is not distributed and must not back a multi-instance deployment.
type MemoryStore struct {
	mu    sync.Mutex
	locks map[string]memLock
	nowF  func() time.Time
}

// NewMemoryStore returns an empty MemoryStore. nowF nil uses time.Now.
func NewMemoryStore(nowF func() time.Time) *MemoryStore {
	if nowF == nil {
		nowF = time.Now
	}
	return &MemoryStore{locks: make(map[string]memLock), nowF: nowF}
}

// TryAcquire takes the lock if absent or expired.
func (s *MemoryStore) TryAcquire(_ context.Context, key, holder string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	if l, ok := s.locks[key]; ok && now.Before(l.expiresAt) {
		return false, nil
	}
	s.locks[key] = memLock{holder: holder, expiresAt: now.Add(ttl)}
	return true, nil
}

// Release deletes the lock if holder owns it and it has not expired.
func (s *MemoryStore) Release(_ context.Context, key, holder string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok || l.holder != holder {
		return false, nil
	}
	delete(s.locks, key)
	return s.nowF().Before(l.expiresAt), nil
}
