package orphan

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type checkerFunc func(ctx context.Context, identityID string) (bool, error)

func (f checkerFunc) Exists(ctx context.Context, identityID string) (bool, error) {
	return f(ctx, identityID)
}

func constant(ok bool) checkerFunc {
	return func(context.Context, string) (bool, error) { return ok, nil }
}

// hang blocks until the attempt context is done, like a lookup against a stalled database.
func hang(calls *atomic.Int32) checkerFunc {
	return func(ctx context.Context, _ string) (bool, error) {
		if calls != nil {
			calls.Add(1)
		}
		<-ctx.Done()
		return false, ctx.Err()
	}
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return nil
}

// maxJitter always picks the ceiling so backoff delays are deterministic.
func maxJitter(ceiling time.Duration) time.Duration { return ceiling }

func newTestClassifier(profiles, memberships ExistenceChecker, opts ...Option) (*Classifier, *sleepRecorder) {
	rec := &sleepRecorder{}
	base := []Option{WithSleep(rec.sleep), WithJitter(maxJitter), WithAttemptTimeout(20 * time.Millisecond)}
	return NewClassifier(profiles, memberships, append(base, opts...)...), rec
}

// isOrphaned is true iff at least one companion record is missing.
func TestClassifier_AllSignalCombinations(t *testing.T) {
	testCases := []struct {
		hasProfile, hasMembership bool
		wantOrphaned              bool
		wantMissing               int
	}{
		{true, true, false, 0},
		{true, false, true, 1},
		{false, true, true, 1},
		{false, false, true, 2},
	}
	for _, tc := range testCases {
		c, _ := newTestClassifier(constant(tc.hasProfile), constant(tc.hasMembership))
		res := c.Check(context.Background(), "id-1", "corr-1")

		if res.IsOrphaned != tc.wantOrphaned {
			t.Errorf("profile=%v membership=%v: IsOrphaned = %v, want %v",
				tc.hasProfile, tc.hasMembership, res.IsOrphaned, tc.wantOrphaned)
		}
		if res.Degraded || res.TimedOut || res.HadError {
			t.Errorf("profile=%v membership=%v: unexpected degraded result %+v", tc.hasProfile, tc.hasMembership, res)
		}
		if res.HasProfile == nil || *res.HasProfile != tc.hasProfile {
			t.Errorf("HasProfile = %v, want %v", res.HasProfile, tc.hasProfile)
		}
		if res.HasMembership == nil || *res.HasMembership != tc.hasMembership {
			t.Errorf("HasMembership = %v, want %v", res.HasMembership, tc.hasMembership)
		}
		if len(res.MissingSignals()) != tc.wantMissing {
			t.Errorf("MissingSignals = %v, want %d entries", res.MissingSignals(), tc.wantMissing)
		}
		if res.Attempts != 1 {
			t.Errorf("Attempts = %d, want 1", res.Attempts)
		}
		if res.CorrelationID != "corr-1" {
			t.Errorf("CorrelationID = %q, want corr-1", res.CorrelationID)
		}
	}
}

// When every attempt times out the result is degraded, never orphaned, and the same every time.
func TestClassifier_AllAttemptsTimeOut(t *testing.T) {
	var profileCalls, membershipCalls atomic.Int32
	c, rec := newTestClassifier(hang(&profileCalls), hang(&membershipCalls))

	for run := 0; run < 3; run++ {
		res := c.Check(context.Background(), "id-1", "")
		if !res.Degraded || !res.TimedOut {
			t.Fatalf("run %d: want degraded+timed out, got %+v", run, res)
		}
		if res.IsOrphaned {
			t.Fatalf("run %d: degraded result must not report orphaned", run)
		}
		if res.HasProfile != nil || res.HasMembership != nil {
			t.Errorf("run %d: signals should be unknown", run)
		}
		if res.Attempts != DefaultMaxAttempts {
			t.Errorf("run %d: Attempts = %d, want %d", run, res.Attempts, DefaultMaxAttempts)
		}
		if res.CorrelationID == "" {
			t.Errorf("run %d: correlation ID should be generated", run)
		}
	}
	if got := profileCalls.Load(); got != 9 {
		t.Errorf("profile lookups = %d, want 9", got)
	}
	if got := membershipCalls.Load(); got != 9 {
		t.Errorf("membership lookups = %d, want 9", got)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := []time.Duration{200 * time.Millisecond, 500 * time.Millisecond}
	if len(rec.delays) != 6 {
		t.Fatalf("delays = %v, want 2 per run", rec.delays)
	}
	for i, d := range rec.delays {
		if d != want[i%2] {
			t.Errorf("delay[%d] = %v, want %v", i, d, want[i%2])
		}
	}
}

func TestClassifier_RecoversOnRetry(t *testing.T) {
	var calls atomic.Int32
	flaky := checkerFunc(func(ctx context.Context, _ string) (bool, error) {
		if calls.Add(1) == 1 {
			return false, errors.New("connection reset")
		}
		return true, nil
	})
	c, rec := newTestClassifier(flaky, constant(false))

	res := c.Check(context.Background(), "id-1", "corr-1")
	if res.Degraded {
		t.Fatalf("result should not be degraded: %+v", res)
	}
	if !res.IsOrphaned {
		t.Error("missing membership should classify as orphaned")
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
	if !res.HadError {
		t.Error("HadError should record the failed first attempt")
	}
	if len(rec.delays) != 1 || rec.delays[0] != 200*time.Millisecond {
		t.Errorf("delays = %v, want [200ms]", rec.delays)
	}
}

func TestClassifier_ErrorsOnAllAttempts(t *testing.T) {
	failing := checkerFunc(func(context.Context, string) (bool, error) {
		return false, errors.New("db down")
	})
	c, _ := newTestClassifier(constant(true), failing, WithMaxAttempts(2))

	res := c.Check(context.Background(), "id-1", "corr-1")
	if !res.Degraded || !res.HadError || res.TimedOut {
		t.Errorf("want degraded with HadError only, got %+v", res)
	}
	if res.IsOrphaned {
		t.Error("degraded result must not report orphaned")
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
}

// Both lookups must be in flight at the same time.
func TestClassifier_LookupsRunInParallel(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(2)
	rendezvous := func(ok bool) checkerFunc {
		return func(ctx context.Context, _ string) (bool, error) {
			wg.Done()
			waitCh := make(chan struct{})
			go func() { wg.Wait(); close(waitCh) }()
			select {
			case <-waitCh:
				return ok, nil
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}
	}
	c, _ := newTestClassifier(rendezvous(true), rendezvous(true), WithAttemptTimeout(time.Second), WithMaxAttempts(1))

	res := c.Check(context.Background(), "id-1", "corr-1")
	if res.Degraded {
		t.Fatalf("sequential lookups would deadlock until timeout; got %+v", res)
	}
}

func TestClassifier_CallerCancellationStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	c, rec := newTestClassifier(hang(&calls), hang(nil))
	res := c.Check(ctx, "id-1", "corr-1")

	if !res.Degraded {
		t.Fatal("cancelled check should be degraded")
	}
	if calls.Load() > 1 {
		t.Errorf("lookups = %d, want at most 1", calls.Load())
	}
	if len(rec.delays) != 0 {
		t.Errorf("no backoff expected after cancellation, got %v", rec.delays)
	}
}

func TestClassifier_DurationUsesClock(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ticks atomic.Int64
	clock := func() time.Time {
		return base.Add(time.Duration(ticks.Add(1)) * 40 * time.Millisecond)
	}
	c, _ := newTestClassifier(constant(true), constant(true), WithClock(clock))

	res := c.Check(context.Background(), "id-1", "corr-1")
	if res.Duration != 40*time.Millisecond {
		t.Errorf("Duration = %v, want 40ms", res.Duration)
	}
}

func TestClassifier_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	c, _ := newTestClassifier(constant(true), constant(false), WithMeter(provider.Meter("test")))
	c.Check(context.Background(), "id-1", "corr-1")
	c.Check(context.Background(), "id-2", "corr-2")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	var gotCount int64
	var sawHistogram bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if m.Name == "orphan.classifier.outcomes" {
					for _, dp := range data.DataPoints {
						if v, ok := dp.Attributes.Value("outcome"); ok && v.AsString() == "orphaned" {
							gotCount += dp.Value
						}
					}
				}
			case metricdata.Histogram[float64]:
				if m.Name == "orphan.classifier.duration" {
					sawHistogram = true
				}
			}
		}
	}
	if gotCount != 2 {
		t.Errorf("orphaned outcome count = %d, want 2", gotCount)
	}
	if !sawHistogram {
		t.Error("duration histogram not recorded")
	}
}

func TestBackoffCeiling(t *testing.T) {
	testCases := map[int]time.Duration{
		1: 0,
		2: 200 * time.Millisecond,
		3: 500 * time.Millisecond,
		7: 500 * time.Millisecond,
	}
	for attempt, want := range testCases {
		if got := backoffCeiling(attempt); got != want {
			t.Errorf("backoffCeiling(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestRandomJitterBounds(t *testing.T) {
	if randomJitter(0) != 0 {
		t.Error("zero ceiling should give zero delay")
	}
	for i := 0; i < 1000; i++ {
		d := randomJitter(200 * time.Millisecond)
		if d < 0 || d > 200*time.Millisecond {
			t.Fatalf("jitter %v out of [0, 200ms]", d)
		}
	}
}
