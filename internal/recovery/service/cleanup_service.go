// Package service implements the two-step orphan cleanup: issue a code, then validate it and
// delete the orphaned identity. Both steps run under the per-email distributed lock.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"orphan-recovery/internal/audit"
	auditdomain "orphan-recovery/internal/audit/domain"
	identitydomain "orphan-recovery/internal/identity/domain"
	"orphan-recovery/internal/orphan"
	"orphan-recovery/internal/platform/logger"
	"orphan-recovery/internal/recovery/domain"
	"orphan-recovery/internal/security"
	"orphan-recovery/internal/telemetry"
	telemetrydomain "orphan-recovery/internal/telemetry/domain"
	"orphan-recovery/internal/verification"
	verificationdomain "orphan-recovery/internal/verification/domain"
)

const (
	// DefaultMaxCodeAttempts is how many wrong codes a record survives.
	DefaultMaxCodeAttempts = 5
	// DefaultMinNotFoundDuration pads NOT_FOUND responses of step 1 to look like a successful request.
	DefaultMinNotFoundDuration = 400 * time.Millisecond

	telemetrySource = "recovery"
)

// IdentityProvider is the subset of the identity provider the cleanup flow needs.
type IdentityProvider interface {
	GetByEmail(ctx context.Context, email string) (*identitydomain.Identity, error)
	Delete(ctx context.Context, id string) error
}

// Locker hands out the per-email cleanup lock. Implemented by lock.Manager.
type Locker interface {
	Acquire(ctx context.Context, email, correlationID string) (bool, error)
	Release(ctx context.Context, email, correlationID string) (bool, error)
}

// OrphanChecker classifies an identity. Implemented by orphan.Classifier.
type OrphanChecker interface {
	Check(ctx context.Context, identityID, correlationID string) orphan.Classification
}

// CompanionStore removes the records this service keeps for an identity. Implemented by the
// profile and membership repositories.
type CompanionStore interface {
	DeleteByIdentity(ctx context.Context, identityID string) (int64, error)
}

// CodeSender delivers the plaintext code. Implemented by mail senders.
type CodeSender interface {
	SendCleanupCode(ctx context.Context, to, code string, ttl time.Duration) error
}

// Config holds the cleanup tunables.
type Config struct {
	CodeTTL             time.Duration
	MaxCodeAttempts     int
	MinNotFoundDuration time.Duration
}

// CleanupService orchestrates RequestCleanupCode and ValidateAndCleanup.
type CleanupService struct {
	identities IdentityProvider
	locks      Locker
	codes      verification.Store
	classifier OrphanChecker
	companions []CompanionStore
	sender     CodeSender
	audit      audit.AuditLogger
	events     telemetry.EventEmitter
	cfg        Config
	log        *slog.Logger

	nowF    func() time.Time
	sleep   func(ctx context.Context, d time.Duration)
	genCode func() (string, error)
}

// NewCleanupService returns a CleanupService. companions are purged for every deleted identity.
// auditLog and events may be nil.
func NewCleanupService(
	identities IdentityProvider,
	locks Locker,
	codes verification.Store,
	classifier OrphanChecker,
	companions []CompanionStore,
	sender CodeSender,
	auditLog audit.AuditLogger,
	events telemetry.EventEmitter,
	cfg Config,
	log *slog.Logger,
) *CleanupService {
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = verificationdomain.DefaultTTL
	}
	if cfg.MaxCodeAttempts <= 0 {
		cfg.MaxCodeAttempts = DefaultMaxCodeAttempts
	}
	if cfg.MinNotFoundDuration < 0 {
		cfg.MinNotFoundDuration = 0
	}
	if log == nil {
		log = slog.Default()
	}
	return &CleanupService{
		identities: identities,
		locks:      locks,
		codes:      codes,
		classifier: classifier,
		companions: companions,
		sender:     sender,
		audit:      auditLog,
		events:     events,
		cfg:        cfg,
		log:        log,
		nowF:       time.Now,
		sleep:      sleepCtx,
		genCode:    security.GenerateCode,
	}
}

// RequestCleanupCode is step 1: it issues a fresh code for an orphaned identity and mails it.
// A new code replaces any previous one for the same email.
func (s *CleanupService) RequestCleanupCode(ctx context.Context, email, correlationID string) (*domain.RequestResult, error) {
	email = security.NormalizeEmail(email)
	correlationID = ensureCorrelationID(correlationID)
	ctx = logger.WithCorrelationID(ctx, correlationID)
	start := s.nowF()

	if err := s.acquire(ctx, email, correlationID); err != nil {
		return nil, err
	}
	defer s.release(ctx, email, correlationID)

	ident, err := s.resolve(ctx, email, correlationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.padSince(ctx, start)
		}
		return nil, err
	}
	if err := s.confirmOrphan(ctx, ident.ID, correlationID); err != nil {
		s.reject(ctx, email, correlationID, err)
		return nil, err
	}

	code, err := s.genCode()
	if err != nil {
		return nil, domain.NewError(domain.KindInternal, correlationID, fmt.Errorf("generate code: %w", err))
	}
	salt, err := security.GenerateSalt()
	if err != nil {
		return nil, domain.NewError(domain.KindInternal, correlationID, fmt.Errorf("generate salt: %w", err))
	}
	now := s.nowF().UTC()
	rec := &verificationdomain.Record{
		EmailHash:     security.HashEmail(email),
		CodeHash:      security.HashCode(code, salt),
		CodeSalt:      salt,
		CorrelationID: correlationID,
		ExpiresAt:     now.Add(s.cfg.CodeTTL),
		CreatedAt:     now,
	}
	if err := s.codes.Put(ctx, rec); err != nil {
		return nil, domain.NewError(domain.KindInternal, correlationID, fmt.Errorf("store code: %w", err))
	}

	delivered := "true"
	if err := s.sender.SendCleanupCode(ctx, email, code, s.cfg.CodeTTL); err != nil {
		delivered = "false"
		s.log.ErrorContext(ctx, "recovery: code dispatch failed",
			"email_hash", rec.EmailHash, "error", err)
	}

	s.logAudit(ctx, audit.Event{
		Action:        auditdomain.ActionCleanupCodeIssued,
		Email:         email,
		IdentityID:    ident.ID,
		CorrelationID: correlationID,
	})
	s.emit(ctx, &telemetrydomain.Event{
		EventType:     telemetrydomain.EventCleanupCodeIssued,
		CorrelationID: correlationID,
		EmailHash:     rec.EmailHash,
		IdentityID:    ident.ID,
		Outcome:       "accepted",
		Attributes:    map[string]string{"delivered": delivered},
	})
	s.log.InfoContext(ctx, "recovery: cleanup code issued", "email_hash", rec.EmailHash)
	return &domain.RequestResult{Accepted: true, CorrelationID: correlationID, ExpiresAt: rec.ExpiresAt}, nil
}

// ValidateAndCleanup is step 2: it checks the submitted code and, if the identity is still
// orphaned, deletes the identity and consumes the code. The code record is deleted only on success
// or when the wrong-code limit is reached.
func (s *CleanupService) ValidateAndCleanup(ctx context.Context, email, code, correlationID string) (*domain.CleanupResult, error) {
	email = security.NormalizeEmail(email)
	correlationID = ensureCorrelationID(correlationID)
	ctx = logger.WithCorrelationID(ctx, correlationID)
	emailHash := security.HashEmail(email)

	if err := s.acquire(ctx, email, correlationID); err != nil {
		return nil, err
	}
	defer s.release(ctx, email, correlationID)

	rec, err := s.codes.Get(ctx, emailHash)
	if err != nil {
		return nil, domain.NewError(domain.KindInternal, correlationID, fmt.Errorf("load code: %w", err))
	}
	if rec == nil {
		err := domain.NewError(domain.KindCodeExpired, correlationID, nil)
		s.reject(ctx, email, correlationID, err)
		return nil, err
	}
	if !security.CodeMatches(code, rec.CodeSalt, rec.CodeHash) {
		s.recordWrongCode(ctx, email, emailHash, correlationID)
		err := domain.NewError(domain.KindInvalidCode, correlationID, nil)
		s.reject(ctx, email, correlationID, err)
		return nil, err
	}

	ident, err := s.resolve(ctx, email, correlationID)
	if err != nil {
		return nil, err
	}
	if err := s.confirmOrphan(ctx, ident.ID, correlationID); err != nil {
		s.reject(ctx, email, correlationID, err)
		return nil, err
	}

	if err := s.identities.Delete(ctx, ident.ID); err != nil {
		if errors.Is(err, identitydomain.ErrNotFound) {
			return nil, domain.NewError(domain.KindNotFound, correlationID, err)
		}
		return nil, domain.NewError(domain.KindInternal, correlationID, fmt.Errorf("delete identity: %w", err))
	}
	s.purgeCompanions(ctx, emailHash, ident.ID)
	if err := s.codes.Delete(ctx, emailHash); err != nil {
		s.log.ErrorContext(ctx, "recovery: delete code record failed after identity deletion",
			"email_hash", emailHash, "error", err)
	}

	s.logAudit(ctx, audit.Event{
		Action:        auditdomain.ActionOrphanDeleted,
		Email:         email,
		IdentityID:    ident.ID,
		CorrelationID: correlationID,
		Metadata:      "issued_by=" + rec.CorrelationID,
	})
	s.emit(ctx, &telemetrydomain.Event{
		EventType:     telemetrydomain.EventCleanupCompleted,
		CorrelationID: correlationID,
		EmailHash:     emailHash,
		IdentityID:    ident.ID,
		Outcome:       "deleted",
	})
	s.log.InfoContext(ctx, "recovery: orphaned identity deleted", "email_hash", emailHash, "identity_id", ident.ID)
	return &domain.CleanupResult{Deleted: true, CorrelationID: correlationID}, nil
}

// purgeCompanions removes leftover companion rows of a deleted identity. The identity is already gone,
// so failures are logged for manual cleanup and do not fail the request.
func (s *CleanupService) purgeCompanions(ctx context.Context, emailHash, identityID string) {
	for _, store := range s.companions {
		n, err := store.DeleteByIdentity(context.WithoutCancel(ctx), identityID)
		if err != nil {
			s.log.ErrorContext(ctx, "recovery: delete companion records failed after identity deletion",
				"email_hash", emailHash, "identity_id", identityID, "error", err)
			continue
		}
		s.log.DebugContext(ctx, "recovery: companion records deleted", "identity_id", identityID, "rows", n)
	}
}

func (s *CleanupService) acquire(ctx context.Context, email, correlationID string) error {
	ok, err := s.locks.Acquire(ctx, email, correlationID)
	if err != nil {
		return domain.NewError(domain.KindInternal, correlationID, err)
	}
	if !ok {
		s.log.InfoContext(ctx, "recovery: cleanup already in progress", "email_hash", security.HashEmail(email))
		return domain.NewError(domain.KindLockConflict, correlationID, nil)
	}
	return nil
}

// release runs even when the request context is cancelled; the lock TTL covers a failed release.
func (s *CleanupService) release(ctx context.Context, email, correlationID string) {
	if _, err := s.locks.Release(context.WithoutCancel(ctx), email, correlationID); err != nil {
		s.log.WarnContext(ctx, "recovery: lock release failed", "error", err)
	}
}

func (s *CleanupService) resolve(ctx context.Context, email, correlationID string) (*identitydomain.Identity, error) {
	if email == "" {
		return nil, domain.NewError(domain.KindNotFound, correlationID, nil)
	}
	ident, err := s.identities.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identitydomain.ErrNotFound) {
			return nil, domain.NewError(domain.KindNotFound, correlationID, err)
		}
		return nil, domain.NewError(domain.KindInternal, correlationID, fmt.Errorf("resolve identity: %w", err))
	}
	if ident == nil {
		return nil, domain.NewError(domain.KindNotFound, correlationID, nil)
	}
	return ident, nil
}

// confirmOrphan re-runs the classifier. A degraded check cannot prove orphan status, so it refuses.
func (s *CleanupService) confirmOrphan(ctx context.Context, identityID, correlationID string) error {
	c := s.classifier.Check(ctx, identityID, correlationID)
	switch {
	case c.Degraded:
		return domain.NewError(domain.KindUnavailable, correlationID,
			fmt.Errorf("orphan status unknown after %d attempts (timed_out=%t had_error=%t)", c.Attempts, c.TimedOut, c.HadError))
	case !c.IsOrphaned:
		return domain.NewError(domain.KindNotOrphaned, correlationID, nil)
	}
	return nil
}

func (s *CleanupService) recordWrongCode(ctx context.Context, email, emailHash, correlationID string) {
	n, err := s.codes.IncrementFailedAttempts(ctx, emailHash)
	if err != nil {
		s.log.WarnContext(ctx, "recovery: count wrong code failed", "email_hash", emailHash, "error", err)
		return
	}
	if n < s.cfg.MaxCodeAttempts {
		return
	}
	if err := s.codes.Delete(ctx, emailHash); err != nil {
		s.log.WarnContext(ctx, "recovery: drop exhausted code failed", "email_hash", emailHash, "error", err)
		return
	}
	s.log.WarnContext(ctx, "recovery: cleanup code exhausted", "email_hash", emailHash, "failed_attempts", n)
	s.logAudit(ctx, audit.Event{
		Action:        auditdomain.ActionCleanupCodeExhausted,
		Email:         email,
		CorrelationID: correlationID,
		Metadata:      "failed_attempts=" + strconv.Itoa(n),
	})
}

func (s *CleanupService) reject(ctx context.Context, email, correlationID string, err error) {
	var re *domain.Error
	if !errors.As(err, &re) {
		return
	}
	s.log.InfoContext(ctx, "recovery: request rejected", "kind", string(re.Kind), "email_hash", security.HashEmail(email))
	s.emit(ctx, &telemetrydomain.Event{
		EventType:     telemetrydomain.EventCleanupRejected,
		CorrelationID: correlationID,
		EmailHash:     security.HashEmail(email),
		Outcome:       string(re.Kind),
	})
}

// padSince waits until MinNotFoundDuration has passed since start.
func (s *CleanupService) padSince(ctx context.Context, start time.Time) {
	if remaining := s.cfg.MinNotFoundDuration - s.nowF().Sub(start); remaining > 0 {
		s.sleep(ctx, remaining)
	}
}

func (s *CleanupService) logAudit(ctx context.Context, ev audit.Event) {
	if s.audit != nil {
		s.audit.LogEvent(ctx, ev)
	}
}

func (s *CleanupService) emit(ctx context.Context, ev *telemetrydomain.Event) {
	ev.Source = telemetrySource
	telemetry.EmitAsync(s.events, ctx, ev)
}

func ensureCorrelationID(id string) string {
	if id == "" {
		return uuid.New().String()
	}
	return id
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
