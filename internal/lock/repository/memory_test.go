package repository

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_ExpiredHolderCannotRelease(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	if ok, _ := s.TryAcquire(ctx, "k", "a", time.Second); !ok {
		t.Fatal("TryAcquire should succeed")
	}
	now = now.Add(2 * time.Second)
	if ok, _ := s.Release(ctx, "k", "a"); ok {
		t.Error("Release after expiry should report false")
	}
	if ok, _ := s.TryAcquire(ctx, "k", "b", time.Second); !ok {
		t.Error("TryAcquire after expiry should succeed")
	}
}

func TestMemoryStore_KeysAreIndependent(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	if ok, _ := s.TryAcquire(ctx, "a", "h", time.Minute); !ok {
		t.Fatal("lock a should be acquired")
	}
	if ok, _ := s.TryAcquire(ctx, "b", "h", time.Minute); !ok {
		t.Fatal("lock b should be acquired independently")
	}
}
