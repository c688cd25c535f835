package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestChecker_AllPass(t *testing.T) {
	c := NewChecker(time.Second)
	c.Add("db", func(ctx context.Context) error { return nil })
	c.Add("redis", func(ctx context.Context) error { return nil })

	r := c.Run(context.Background())
	if !r.Ready() {
		t.Fatalf("Ready = false, report %+v", r)
	}
	if r.Checks["db"] != StatusOK || r.Checks["redis"] != StatusOK {
		t.Errorf("checks = %v", r.Checks)
	}
}

func TestChecker_OneFails(t *testing.T) {
	c := NewChecker(time.Second)
	c.Add("db", func(ctx context.Context) error { return nil })
	c.Add("kratos", func(ctx context.Context) error { return errors.New("connection refused") })

	r := c.Run(context.Background())
	if r.Ready() {
		t.Fatal("Ready = true with a failing check")
	}
	if r.Status != StatusUnavailable {
		t.Errorf("Status = %q, want %q", r.Status, StatusUnavailable)
	}
	if r.Checks["kratos"] != "connection refused" {
		t.Errorf("kratos = %q", r.Checks["kratos"])
	}
	if r.Checks["db"] != StatusOK {
		t.Errorf("db = %q, want ok", r.Checks["db"])
	}
}

func TestChecker_TimeoutPerCheck(t *testing.T) {
	c := NewChecker(20 * time.Millisecond)
	c.Add("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	r := c.Run(context.Background())
	if time.Since(start) > time.Second {
		t.Fatal("Run did not honor the per-check timeout")
	}
	if r.Checks["slow"] != context.DeadlineExceeded.Error() {
		t.Errorf("slow = %q, want deadline exceeded", r.Checks["slow"])
	}
}

func TestChecker_NoChecksIsReady(t *testing.T) {
	if !NewChecker(0).Run(context.Background()).Ready() {
		t.Error("empty checker should be ready")
	}
}

func TestChecker_AddIgnoresNilAndSortsNames(t *testing.T) {
	c := NewChecker(0)
	c.Add("redis", func(ctx context.Context) error { return nil })
	c.Add("nil", nil)
	c.Add("db", func(ctx context.Context) error { return nil })

	names := c.Names()
	if len(names) != 2 || names[0] != "db" || names[1] != "redis" {
		t.Errorf("Names = %v, want [db redis]", names)
	}
}
