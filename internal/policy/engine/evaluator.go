// Package engine decides what a degraded orphan classification means at each call site.
package engine

import "context"

// CallSite identifies where a classification is consumed.
type CallSite string

const (
	// CallSiteLogin is the sign-in path. The built-in policy fails closed here.
	CallSiteLogin CallSite = "login"
	// CallSiteRegistrationProbe is the signup email-status probe. The built-in policy fails open here.
	CallSiteRegistrationProbe CallSite = "registration_probe"
)

// DegradedInput describes a classification that could not confirm orphan status.
type DegradedInput struct {
	CallSite CallSite
	TimedOut bool
	HadError bool
}

// Decider decides whether a caller may proceed when orphan status is unknown.
type Decider interface {
	// AllowDegraded returns true to let the caller proceed (flagged) and false to block.
	AllowDegraded(ctx context.Context, in DegradedInput) bool
}
