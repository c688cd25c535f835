package task

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunner_SurvivesCallerCancellation(t *testing.T) {
	r := NewRunner(nil, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	result := make(chan error, 1)
	r.Go(ctx, "cleanup", func(ctx context.Context) error {
		close(started)
		time.Sleep(20 * time.Millisecond)
		result <- ctx.Err()
		return nil
	})
	<-started
	cancel()

	if err := <-result; err != nil {
		t.Errorf("task context err = %v, want nil after caller cancel", err)
	}
}

func TestRunner_KeepsContextValues(t *testing.T) {
	type key struct{}
	r := NewRunner(nil, time.Second)
	ctx := context.WithValue(context.Background(), key{}, "corr-1")

	got := make(chan any, 1)
	r.Go(ctx, "values", func(ctx context.Context) error {
		got <- ctx.Value(key{})
		return nil
	})
	if v := <-got; v != "corr-1" {
		t.Errorf("value = %v, want corr-1", v)
	}
}

func TestRunner_TimeoutApplies(t *testing.T) {
	r := NewRunner(nil, 10*time.Millisecond)
	got := make(chan error, 1)
	r.Go(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		got <- ctx.Err()
		return ctx.Err()
	})
	select {
	case err := <-got:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want DeadlineExceeded", err)
		}
	case <-time.After(time.Second):
		t.Fatal("task timeout was not applied")
	}
}

func TestRunner_LogsFailureAndPanic(t *testing.T) {
	var out syncBuffer
	r := NewRunner(slog.New(slog.NewJSONHandler(&out, nil)), time.Second)

	r.Go(context.Background(), "fails", func(context.Context) error { return errors.New("boom") })
	r.Go(context.Background(), "panics", func(context.Context) error { panic("kaboom") })

	if err := r.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	logs := out.String()
	if !strings.Contains(logs, "boom") {
		t.Errorf("failure not logged: %s", logs)
	}
	if !strings.Contains(logs, "kaboom") {
		t.Errorf("panic not logged: %s", logs)
	}
}

func TestRunner_DrainRejectsNewTasks(t *testing.T) {
	r := NewRunner(nil, time.Second)
	if err := r.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if r.Go(context.Background(), "late", func(context.Context) error { return nil }) {
		t.Error("Go should return false after Drain")
	}
}

func TestRunner_DrainTimesOut(t *testing.T) {
	r := NewRunner(nil, time.Second)
	release := make(chan struct{})
	r.Go(context.Background(), "blocked", func(context.Context) error {
		<-release
		return nil
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := r.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Drain err = %v, want DeadlineExceeded", err)
	}
}
