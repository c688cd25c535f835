package repository

import (
	"context"
	"sync"
	"time"

	"orphan-recovery/internal/verification/domain"
)

// MemoryStore is an in-process verification Store for tests and single-node development.
type MemoryStore struct {
	mu   sync.Mutex
	m    map[string]domain.Record
	nowF func() time.Time
}

// NewMemoryStore returns an empty MemoryStore. nowF nil uses time.Now.
func NewMemoryStore(nowF func() time.Time) *MemoryStore {
	if nowF == nil {
		nowF = time.Now
	}
	return &MemoryStore{m: make(map[string]domain.Record), nowF: nowF}
}

// Put replaces any record for rec.EmailHash.
func (s *MemoryStore) Put(_ context.Context, rec *domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[rec.EmailHash] = cloneRecord(*rec)
	return nil
}

// Get returns a copy of the live record or nil.
func (s *MemoryStore) Get(_ context.Context, emailHash string) (*domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.m[emailHash]
	if !ok || rec.Expired(s.nowF()) {
		return nil, nil
	}
	out := cloneRecord(rec)
	return &out, nil
}

// Delete removes the record if present.
func (s *MemoryStore) Delete(_ context.Context, emailHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, emailHash)
	return nil
}

// IncrementFailedAttempts bumps the counter of a live record.
func (s *MemoryStore) IncrementFailedAttempts(_ context.Context, emailHash string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.m[emailHash]
	if !ok || rec.Expired(s.nowF()) {
		return 0, nil
	}
	rec.FailedAttempts++
	s.m[emailHash] = rec
	return rec.FailedAttempts, nil
}

// SweepExpired deletes records with ExpiresAt before now.
func (s *MemoryStore) SweepExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	var n int64
	for k, rec := range s.m {
		if rec.ExpiresAt.Before(now) {
			delete(s.m, k)
			n++
		}
	}
	return n, nil
}

func cloneRecord(r domain.Record) domain.Record {
	r.CodeHash = append([]byte(nil), r.CodeHash...)
	r.CodeSalt = append([]byte(nil), r.CodeSalt...)
	return r
}
