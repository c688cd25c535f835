package devcode

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_PutGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Put(ctx, "orphan@example.com", "123456", time.Now().Add(5*time.Minute))

	code, ok := store.Get(ctx, "orphan@example.com")
	if !ok {
		t.Fatal("Get should return the code after Put")
	}
	if code != "123456" {
		t.Errorf("code = %q, want %q", code, "123456")
	}
}

func TestMemoryStore_Get_NormalizesEmail(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Put(ctx, "Orphan@Example.com ", "123456", time.Now().Add(time.Minute))

	if _, ok := store.Get(ctx, "orphan@example.com"); !ok {
		t.Error("Get should find the code under the normalized email")
	}
}

func TestMemoryStore_Get_ReturnsFalseWhenMissing(t *testing.T) {
	code, ok := NewMemoryStore().Get(context.Background(), "nobody@example.com")
	if ok {
		t.Error("Get should return false when the code is missing")
	}
	if code != "" {
		t.Errorf("code = %q, want empty string", code)
	}
}

func TestMemoryStore_Get_ReturnsFalseWhenExpired(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.nowF = func() time.Time { return now }
	ctx := context.Background()

	store.Put(ctx, "orphan@example.com", "123456", now.Add(time.Minute))
	store.nowF = func() time.Time { return now.Add(time.Minute) }

	if _, ok := store.Get(ctx, "orphan@example.com"); ok {
		t.Error("Get should return false once expiresAt is reached")
	}
	if len(store.m) != 0 {
		t.Errorf("expired entry should be removed, %d left", len(store.m))
	}
}

func TestMemoryStore_PutReplacesAndDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	exp := time.Now().Add(time.Minute)

	store.Put(ctx, "orphan@example.com", "111111", exp)
	store.Put(ctx, "orphan@example.com", "222222", exp)
	if code, _ := store.Get(ctx, "orphan@example.com"); code != "222222" {
		t.Errorf("code = %q, want the replacement", code)
	}

	store.Delete(ctx, "orphan@example.com")
	if _, ok := store.Get(ctx, "orphan@example.com"); ok {
		t.Error("Get should return false after Delete")
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	exp := time.Now().Add(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			store.Put(ctx, "orphan@example.com", "123456", exp)
		}()
		go func() {
			defer wg.Done()
			store.Get(ctx, "orphan@example.com")
		}()
	}
	wg.Wait()

	if code, ok := store.Get(ctx, "orphan@example.com"); !ok || code != "123456" {
		t.Errorf("Get = %q, %v", code, ok)
	}
}
