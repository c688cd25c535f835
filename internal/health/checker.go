// Package health runs readiness checks against the service's dependencies.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 2 * time.Second

// Status values reported by Checker.
const (
	StatusOK          = "ok"
	StatusUnavailable = "unavailable"
)

// CheckFunc reports an error when a dependency is not ready.
type CheckFunc func(ctx context.Context) error

// Report is the result of one readiness run. Checks maps each check name to "ok" or its error text.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Ready reports whether every check passed.
func (r Report) Ready() bool {
	return r.Status == StatusOK
}

// Checker runs named readiness checks in parallel, each under its own timeout.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	timeout time.Duration
}

// NewChecker returns an empty Checker. timeout <= 0 uses DefaultTimeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Checker{checks: make(map[string]CheckFunc), timeout: timeout}
}

// Add registers fn under name, replacing any previous check with that name. A nil fn is ignored.
func (c *Checker) Add(name string, fn CheckFunc) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// Names returns the registered check names in sorted order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes every check and returns the aggregated report. It never returns early on failure.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checks[name] = fn
	}
	c.mu.RUnlock()

	var (
		mu      sync.Mutex
		results = make(map[string]string, len(checks))
		g       errgroup.Group
	)
	for name, fn := range checks {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			res := StatusOK
			if err := fn(checkCtx); err != nil {
				res = err.Error()
			}
			mu.Lock()
			results[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status := StatusOK
	for _, res := range results {
		if res != StatusOK {
			status = StatusUnavailable
			break
		}
	}
	return Report{Status: status, Checks: results}
}
