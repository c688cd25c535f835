package repository

import (
	"context"
	"testing"
	"time"

	"orphan-recovery/internal/verification/domain"
)

func newRecord(emailHash string, now time.Time) *domain.Record {
	return &domain.Record{
		EmailHash:     emailHash,
		CodeHash:      []byte("hash-1"),
		CodeSalt:      []byte("salt-1"),
		CorrelationID: "corr-1",
		ExpiresAt:     now.Add(domain.DefaultTTL),
		CreatedAt:     now,
	}
}

func TestMemoryStore_PutGet(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	if err := s.Put(ctx, newRecord("h1", now)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	rec, err := s.Get(ctx, "h1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec == nil || string(rec.CodeHash) != "hash-1" || rec.CorrelationID != "corr-1" {
		t.Fatalf("Get = %+v", rec)
	}

	rec.CodeHash[0] = 'X'
	again, _ := s.Get(ctx, "h1")
	if string(again.CodeHash) != "hash-1" {
		t.Error("Get should return a copy")
	}
}

func TestMemoryStore_PutReplaces(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	_ = s.Put(ctx, newRecord("h1", now))
	_, _ = s.IncrementFailedAttempts(ctx, "h1")

	second := newRecord("h1", now)
	second.CodeHash = []byte("hash-2")
	second.CorrelationID = "corr-2"
	_ = s.Put(ctx, second)

	rec, _ := s.Get(ctx, "h1")
	if string(rec.CodeHash) != "hash-2" || rec.CorrelationID != "corr-2" {
		t.Errorf("record not replaced: %+v", rec)
	}
	if rec.FailedAttempts != 0 {
		t.Errorf("FailedAttempts = %d, want 0 after replace", rec.FailedAttempts)
	}
}

func TestMemoryStore_ExpiredIsAbsent(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	_ = s.Put(ctx, newRecord("h1", now))
	now = now.Add(domain.DefaultTTL)

	rec, err := s.Get(ctx, "h1")
	if err != nil || rec != nil {
		t.Fatalf("Get at expiry = %+v, %v; want nil, nil", rec, err)
	}
	if n, _ := s.IncrementFailedAttempts(ctx, "h1"); n != 0 {
		t.Errorf("IncrementFailedAttempts on expired = %d, want 0", n)
	}
}

func TestMemoryStore_DeleteIdempotent(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	_ = s.Put(ctx, newRecord("h1", time.Now()))

	if err := s.Delete(ctx, "h1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "h1"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if rec, _ := s.Get(ctx, "h1"); rec != nil {
		t.Error("record should be gone")
	}
}

func TestMemoryStore_SweepExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	_ = s.Put(ctx, newRecord("old", now.Add(-10*time.Minute)))
	_ = s.Put(ctx, newRecord("fresh", now))

	n, err := s.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}
	if rec, _ := s.Get(ctx, "fresh"); rec == nil {
		t.Error("fresh record should survive the sweep")
	}
}
