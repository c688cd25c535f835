// Package orphan decides whether an identity is missing its companion records.
package orphan

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultAttemptTimeout bounds one pair of parallel lookups.
	DefaultAttemptTimeout = 500 * time.Millisecond
	// DefaultMaxAttempts is the attempt budget of one check.
	DefaultMaxAttempts = 3
)

// backoffCeilings is the jitter ceiling before each attempt. The first attempt runs immediately;
// attempts past the end of the table reuse the last ceiling.
var backoffCeilings = []time.Duration{0, 200 * time.Millisecond, 500 * time.Millisecond}

// ExistenceChecker answers whether a companion record exists for an identity.
type ExistenceChecker interface {
	Exists(ctx context.Context, identityID string) (bool, error)
}

// Classifier runs the bounded, parallel, retried orphan check.
type Classifier struct {
	profiles    ExistenceChecker
	memberships ExistenceChecker

	attemptTimeout time.Duration
	maxAttempts    int

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(ceiling time.Duration) time.Duration
	now    func() time.Time
	log    *slog.Logger

	duration metric.Float64Histogram
	outcomes metric.Int64Counter
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithAttemptTimeout sets the per-attempt timeout.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.attemptTimeout = d
		}
	}
}

// WithMaxAttempts sets the attempt budget.
func WithMaxAttempts(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithSleep replaces the backoff sleep. Tests use it to observe delays without waiting.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Classifier) { c.sleep = sleep }
}

// WithJitter replaces the random source for backoff delays. It must return a value in [0, ceiling].
func WithJitter(jitter func(ceiling time.Duration) time.Duration) Option {
	return func(c *Classifier) { c.jitter = jitter }
}

// WithClock replaces the clock used to measure Duration.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Classifier) { c.log = log }
}

// WithMeter records classifier metrics on meter instead of the global meter provider.
func WithMeter(meter metric.Meter) Option {
	return func(c *Classifier) { c.initMetrics(meter) }
}

// NewClassifier returns a Classifier over the profile and membership stores.
func NewClassifier(profiles, memberships ExistenceChecker, opts ...Option) *Classifier {
	c := &Classifier{
		profiles:       profiles,
		memberships:    memberships,
		attemptTimeout: DefaultAttemptTimeout,
		maxAttempts:    DefaultMaxAttempts,
		sleep:          sleepCtx,
		jitter:         randomJitter,
		now:            time.Now,
		log:            slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.duration == nil {
		c.initMetrics(otel.GetMeterProvider().Meter("orphan-recovery/orphan"))
	}
	return c
}

func (c *Classifier) initMetrics(meter metric.Meter) {
	// Instrument creation only fails on invalid names; the returned instruments are still usable no-ops.
	c.duration, _ = meter.Float64Histogram("orphan.classifier.duration",
		metric.WithDescription("End-to-end orphan classification latency."),
		metric.WithUnit("ms"))
	c.outcomes, _ = meter.Int64Counter("orphan.classifier.outcomes",
		metric.WithDescription("Orphan classifications by outcome."))
}

// Check classifies identityID. correlationID may be empty, in which case a new one is generated.
// It never returns an error: lookups that fail or time out on every attempt yield a Degraded result.
func (c *Classifier) Check(ctx context.Context, identityID, correlationID string) Classification {
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	start := c.now()
	res := Classification{CorrelationID: correlationID}

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, c.jitter(backoffCeiling(attempt))); err != nil {
				res.HadError = true
				break
			}
		}
		res.Attempts = attempt

		hasProfile, hasMembership, err := c.lookup(ctx, identityID)
		if err == nil {
			res.HasProfile = &hasProfile
			res.HasMembership = &hasMembership
			res.IsOrphaned = !hasProfile || !hasMembership
			res.Degraded = false
			return c.finish(ctx, res, start)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			res.TimedOut = true
		} else {
			res.HadError = true
		}
		c.log.DebugContext(ctx, "orphan: lookup attempt failed",
			"correlation_id", correlationID, "attempt", attempt, "error", err)
		if ctx.Err() != nil {
			break
		}
	}

	res.Degraded = true
	res.IsOrphaned = false
	return c.finish(ctx, res, start)
}

func (c *Classifier) finish(ctx context.Context, res Classification, start time.Time) Classification {
	res.Duration = c.now().Sub(start)

	attrs := metric.WithAttributes(attribute.String("outcome", res.Outcome()))
	c.duration.Record(ctx, float64(res.Duration.Microseconds())/1000, attrs)
	c.outcomes.Add(ctx, 1, attrs)

	if res.Degraded {
		c.log.WarnContext(ctx, "orphan: classification degraded",
			"correlation_id", res.CorrelationID, "attempts", res.Attempts,
			"timed_out", res.TimedOut, "had_error", res.HadError, "duration_ms", res.Duration.Milliseconds())
	} else {
		c.log.InfoContext(ctx, "orphan: classification complete",
			"correlation_id", res.CorrelationID, "is_orphaned", res.IsOrphaned,
			"missing", res.MissingSignals(), "attempts", res.Attempts, "duration_ms", res.Duration.Milliseconds())
	}
	return res
}

type lookupResult struct {
	hasProfile, hasMembership bool
	err                       error
}

// lookup runs both existence checks concurrently under the per-attempt timeout.
// It returns when both finish or the timeout fires, whichever is first.
func (c *Classifier) lookup(ctx context.Context, identityID string) (bool, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	done := make(chan lookupResult, 1)
	go func() {
		var r lookupResult
		g, gctx := errgroup.WithContext(attemptCtx)
		g.Go(func() error {
			ok, err := c.profiles.Exists(gctx, identityID)
			r.hasProfile = ok
			return err
		})
		g.Go(func() error {
			ok, err := c.memberships.Exists(gctx, identityID)
			r.hasMembership = ok
			return err
		})
		r.err = g.Wait()
		done <- r
	}()

	select {
	case r := <-done:
		if r.err != nil && attemptCtx.Err() != nil {
			return false, false, attemptCtx.Err()
		}
		return r.hasProfile, r.hasMembership, r.err
	case <-attemptCtx.Done():
		return false, false, attemptCtx.Err()
	}
}

func backoffCeiling(attempt int) time.Duration {
	i := attempt - 1
	if i >= len(backoffCeilings) {
		i = len(backoffCeilings) - 1
	}
	return backoffCeilings[i]
}

func randomJitter(ceiling time.Duration) time.Duration {
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(ceiling) + 1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
