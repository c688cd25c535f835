package verification

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often expired records are swept when no interval is configured.
const DefaultSweepInterval = 2 * time.Minute

// Sweeper periodically deletes expired verification records.
type Sweeper struct {
	store    Store
	interval time.Duration
	log      *slog.Logger
}

// NewSweeper returns a Sweeper over store. interval <= 0 uses DefaultSweepInterval.
func NewSweeper(store Store, interval time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{store: store, interval: interval, log: log}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single sweep and logs the outcome. Returns the number of records removed.
func (s *Sweeper) SweepOnce(ctx context.Context) int64 {
	n, err := s.store.SweepExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.ErrorContext(ctx, "verification: sweep expired codes failed", "error", err)
		}
		return 0
	}
	if n > 0 {
		s.log.InfoContext(ctx, "verification: swept expired codes", "count", n)
	} else {
		s.log.DebugContext(ctx, "verification: sweep found nothing to delete")
	}
	return n
}
