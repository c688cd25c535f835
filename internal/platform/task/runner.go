// Package task runs detached background work with its own error boundary.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTimeout bounds a single detached task when the Runner is built with a zero timeout.
const DefaultTimeout = 30 * time.Second

// Runner starts detached tasks that outlive the request that started them.
// Each task gets a context detached from the caller's cancellation (values such as the
// correlation ID are kept) with its own timeout. Failures and panics are logged, never propagated.
type Runner struct {
	log     *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewRunner returns a Runner. timeout <= 0 uses DefaultTimeout; log nil uses slog.Default().
func NewRunner(log *slog.Logger, timeout time.Duration) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{log: log, timeout: timeout}
}

// Go runs fn in a new goroutine. Returns false if the Runner is draining and the task was dropped.
func (r *Runner) Go(ctx context.Context, name string, fn func(ctx context.Context) error) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.log.WarnContext(ctx, "task: runner draining, task dropped", "task", name)
		return false
	}
	r.wg.Add(1)
	r.mu.Unlock()

	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	go func() {
		defer r.wg.Done()
		defer cancel()
		if err := run(taskCtx, fn); err != nil {
			r.log.ErrorContext(taskCtx, "task: detached task failed", "task", name, "error", err)
		}
	}()
	return true
}

// Drain stops accepting tasks and waits for running ones until ctx is done.
func (r *Runner) Drain(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("task: drain: %w", ctx.Err())
	}
}

func run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}
