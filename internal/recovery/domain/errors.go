// Package domain holds the cleanup flow's results and its closed error type.
package domain

import (
	"fmt"
	"time"
)

// Kind discriminates cleanup failures. The set is closed; handlers switch on it exhaustively.
type Kind string

const (
	KindLockConflict Kind = "LOCK_CONFLICT"
	KindNotFound     Kind = "NOT_FOUND"
	KindNotOrphaned  Kind = "NOT_ORPHANED"
	KindCodeExpired  Kind = "CODE_EXPIRED"
	KindInvalidCode  Kind = "INVALID_CODE"
	// KindUnavailable means orphan status could not be confirmed; the caller may retry.
	KindUnavailable Kind = "UNAVAILABLE"
	KindInternal    Kind = "INTERNAL"
)

// Error is returned by every cleanup operation. Err carries the underlying cause for logs
// and is never shown to users.
type Error struct {
	Kind          Kind
	CorrelationID string
	Err           error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("recovery: %s: %v", e.Kind, e.Err)
	}
	return "recovery: " + string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so errors.Is(err, ErrLockConflict) works on wrapped results.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrLockConflict = &Error{Kind: KindLockConflict}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrNotOrphaned  = &Error{Kind: KindNotOrphaned}
	ErrCodeExpired  = &Error{Kind: KindCodeExpired}
	ErrInvalidCode  = &Error{Kind: KindInvalidCode}
	ErrUnavailable  = &Error{Kind: KindUnavailable}
	ErrInternal     = &Error{Kind: KindInternal}
)

// NewError returns an *Error of kind for correlationID wrapping cause (may be nil).
func NewError(kind Kind, correlationID string, cause error) *Error {
	return &Error{Kind: kind, CorrelationID: correlationID, Err: cause}
}

// RequestResult is the outcome of step 1.
type RequestResult struct {
	Accepted      bool
	CorrelationID string
	ExpiresAt     time.Time
}

// CleanupResult is the outcome of step 2.
type CleanupResult struct {
	Deleted       bool
	CorrelationID string
}
