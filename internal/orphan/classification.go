package orphan

import "time"

// Classification is the outcome of one orphan check. It is computed per call and never persisted.
//
// IsOrphaned is true only when both signals are known and at least one is false.
// When a signal is unknown (nil) the check is Degraded and IsOrphaned stays false;
// the caller's policy decides what a degraded check means.
type Classification struct {
	IsOrphaned    bool
	HasProfile    *bool
	HasMembership *bool
	TimedOut      bool
	HadError      bool
	Degraded      bool
	Duration      time.Duration
	CorrelationID string
	Attempts      int
}

// Outcome names the classification for logs and metrics.
func (c Classification) Outcome() string {
	switch {
	case c.Degraded:
		return "degraded"
	case c.IsOrphaned:
		return "orphaned"
	default:
		return "not_orphaned"
	}
}

// MissingSignals lists which companion records are absent, e.g. ["profile"].
func (c Classification) MissingSignals() []string {
	var out []string
	if c.HasProfile != nil && !*c.HasProfile {
		out = append(out, "profile")
	}
	if c.HasMembership != nil && !*c.HasMembership {
		out = append(out, "membership")
	}
	return out
}
