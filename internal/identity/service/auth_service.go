// Package service runs the sign-in and signup-probe paths through the orphan classifier and
// hands orphaned identities to the cleanup flow.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"orphan-recovery/internal/identity/domain"
	"orphan-recovery/internal/orphan"
	"orphan-recovery/internal/platform/logger"
	policyengine "orphan-recovery/internal/policy/engine"
	recoverydomain "orphan-recovery/internal/recovery/domain"
	"orphan-recovery/internal/security"
	"orphan-recovery/internal/telemetry"
	telemetrydomain "orphan-recovery/internal/telemetry/domain"
)

// ErrClassificationUnavailable is returned by ProbeRegistration when orphan status is unknown
// and the policy blocks the probe.
var ErrClassificationUnavailable = errors.New("account status could not be confirmed")

// State is the terminal state of one login attempt.
type State string

const (
	StateProceed          State = "proceed"
	StateAuthFailed       State = "auth_failed"
	StateEmailUnverified  State = "email_unverified"
	StateRecoveryRedirect State = "recovery_redirect"
	StateBlocked          State = "blocked"
)

// ProbeStatus is the registration-time status of an email.
type ProbeStatus string

const (
	ProbeAvailable  ProbeStatus = "available"
	ProbeRegistered ProbeStatus = "registered"
	ProbeOrphaned   ProbeStatus = "orphaned"
	ProbeUnknown    ProbeStatus = "unknown"
)

// Options offered to a signup that hits an orphaned identity.
const (
	OptionCompleteRegistration = "complete_registration"
	OptionStartFresh           = "start_fresh"
)

const telemetrySource = "auth"

// LoginOutcome is the result of Login.
// Session is set only for StateProceed. Email, CorrelationID and the ticket fields are set for
// StateRecoveryRedirect. Degraded marks a proceed that the policy let through without a confirmed check.
type LoginOutcome struct {
	State           State
	Session         *domain.Session
	Email           string
	CorrelationID   string
	RecoveryTicket  string
	TicketExpiresAt time.Time
	Degraded        bool
}

// ProbeResult is the result of ProbeRegistration.
type ProbeResult struct {
	Status         ProbeStatus
	CorrelationID  string
	Options        []string
	RecoveryTicket string
	Flagged        bool
}

// IdentityProvider is the subset of the identity provider the auth paths need.
type IdentityProvider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error)
	SignOut(ctx context.Context, sessionToken string) error
	GetByEmail(ctx context.Context, email string) (*domain.Identity, error)
}

// OrphanChecker classifies an identity. Implemented by orphan.Classifier.
type OrphanChecker interface {
	Check(ctx context.Context, identityID, correlationID string) orphan.Classification
}

// CleanupStarter issues cleanup codes. Implemented by the recovery CleanupService.
type CleanupStarter interface {
	RequestCleanupCode(ctx context.Context, email, correlationID string) (*recoverydomain.RequestResult, error)
}

// TicketIssuer signs recovery tickets. Implemented by security.TicketIssuer.
type TicketIssuer interface {
	Issue(email, correlationID string) (string, time.Time, error)
}

// TaskRunner starts detached work. Implemented by task.Runner.
type TaskRunner interface {
	Go(ctx context.Context, name string, fn func(ctx context.Context) error) bool
}

// AuthService implements the orphan-aware login and registration probe.
type AuthService struct {
	identities IdentityProvider
	classifier OrphanChecker
	cleanup    CleanupStarter
	tickets    TicketIssuer
	policy     policyengine.Decider
	tasks      TaskRunner
	events     telemetry.EventEmitter
	log        *slog.Logger
	newID      func() string
}

// NewAuthService returns an AuthService with the given dependencies. events may be nil.
func NewAuthService(
	identities IdentityProvider,
	classifier OrphanChecker,
	cleanup CleanupStarter,
	tickets TicketIssuer,
	policy policyengine.Decider,
	tasks TaskRunner,
	events telemetry.EventEmitter,
	log *slog.Logger,
) *AuthService {
	if log == nil {
		log = slog.Default()
	}
	if policy == nil {
		policy = policyengine.StaticDecider{}
	}
	return &AuthService{
		identities: identities,
		classifier: classifier,
		cleanup:    cleanup,
		tickets:    tickets,
		policy:     policy,
		tasks:      tasks,
		events:     events,
		log:        log,
		newID:      func() string { return uuid.New().String() },
	}
}

// Login authenticates email/password and checks the identity for orphan status before a session
// is handed out. Returned errors are provider failures; every user-facing result is a State.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginOutcome, error) {
	email = security.NormalizeEmail(email)
	loginID := s.newID()
	ctx = logger.WithCorrelationID(ctx, loginID)

	sess, err := s.identities.SignInWithPassword(ctx, email, password)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			return &LoginOutcome{State: StateAuthFailed}, nil
		}
		return nil, err
	}

	if !sess.Identity.EmailVerified {
		s.signOut(ctx, sess)
		return &LoginOutcome{State: StateEmailUnverified}, nil
	}

	cls := s.classifier.Check(ctx, sess.Identity.ID, loginID)
	if cls.Degraded {
		s.emitDegraded(ctx, email, sess.Identity.ID, cls, policyengine.CallSiteLogin)
		if s.policy.AllowDegraded(ctx, degradedInput(cls, policyengine.CallSiteLogin)) {
			s.log.WarnContext(ctx, "auth: login proceeding with unconfirmed orphan status",
				"identity_id", sess.Identity.ID)
			return &LoginOutcome{State: StateProceed, Session: sess, Degraded: true}, nil
		}
		s.signOut(ctx, sess)
		return &LoginOutcome{State: StateBlocked}, nil
	}
	if !cls.IsOrphaned {
		return &LoginOutcome{State: StateProceed, Session: sess}, nil
	}

	s.signOut(ctx, sess)
	recoveryID := s.newID()
	s.emit(ctx, &telemetrydomain.Event{
		EventType:     telemetrydomain.EventOrphanDetected,
		CorrelationID: recoveryID,
		EmailHash:     security.HashEmail(email),
		IdentityID:    sess.Identity.ID,
		Outcome:       "redirect",
		Attributes:    map[string]string{"call_site": string(policyengine.CallSiteLogin), "login_correlation_id": loginID},
	})
	s.log.InfoContext(ctx, "auth: orphaned identity signed out, redirecting to recovery",
		"identity_id", sess.Identity.ID, "email_hash", security.HashEmail(email),
		"recovery_correlation_id", recoveryID, "missing", cls.MissingSignals())

	s.startCleanup(ctx, email, recoveryID)

	out := &LoginOutcome{State: StateRecoveryRedirect, Email: email, CorrelationID: recoveryID}
	out.RecoveryTicket, out.TicketExpiresAt = s.issueTicket(ctx, email, recoveryID)
	return out, nil
}

// ProbeRegistration reports whether a signup for email can proceed, hits an existing account,
// or hits an orphaned identity that must be recovered first.
func (s *AuthService) ProbeRegistration(ctx context.Context, email string) (*ProbeResult, error) {
	email = security.NormalizeEmail(email)
	corrID := s.newID()
	ctx = logger.WithCorrelationID(ctx, corrID)

	ident, err := s.identities.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &ProbeResult{Status: ProbeAvailable, CorrelationID: corrID}, nil
		}
		return nil, err
	}

	cls := s.classifier.Check(ctx, ident.ID, corrID)
	if cls.Degraded {
		s.emitDegraded(ctx, email, ident.ID, cls, policyengine.CallSiteRegistrationProbe)
		if s.policy.AllowDegraded(ctx, degradedInput(cls, policyengine.CallSiteRegistrationProbe)) {
			return &ProbeResult{Status: ProbeUnknown, CorrelationID: corrID, Flagged: true}, nil
		}
		return nil, ErrClassificationUnavailable
	}
	if !cls.IsOrphaned {
		return &ProbeResult{Status: ProbeRegistered, CorrelationID: corrID}, nil
	}

	s.emit(ctx, &telemetrydomain.Event{
		EventType:     telemetrydomain.EventOrphanDetected,
		CorrelationID: corrID,
		EmailHash:     security.HashEmail(email),
		IdentityID:    ident.ID,
		Outcome:       "offer_recovery",
		Attributes:    map[string]string{"call_site": string(policyengine.CallSiteRegistrationProbe)},
	})
	res := &ProbeResult{
		Status:        ProbeOrphaned,
		CorrelationID: corrID,
		Options:       []string{OptionCompleteRegistration, OptionStartFresh},
	}
	res.RecoveryTicket, _ = s.issueTicket(ctx, email, corrID)
	return res, nil
}

// StartFresh issues a cleanup code for email right away. Errors are the cleanup flow's *recovery Error.
func (s *AuthService) StartFresh(ctx context.Context, email, correlationID string) (*recoverydomain.RequestResult, error) {
	return s.cleanup.RequestCleanupCode(ctx, security.NormalizeEmail(email), correlationID)
}

func (s *AuthService) startCleanup(ctx context.Context, email, recoveryID string) {
	taskCtx := logger.WithCorrelationID(ctx, recoveryID)
	started := s.tasks.Go(taskCtx, "cleanup-code-request", func(ctx context.Context) error {
		_, err := s.cleanup.RequestCleanupCode(ctx, email, recoveryID)
		return err
	})
	if !started {
		s.log.WarnContext(ctx, "auth: cleanup code request not started; user can request one manually",
			"recovery_correlation_id", recoveryID)
	}
}

func (s *AuthService) issueTicket(ctx context.Context, email, corrID string) (string, time.Time) {
	if s.tickets == nil {
		return "", time.Time{}
	}
	ticket, exp, err := s.tickets.Issue(email, corrID)
	if err != nil {
		s.log.ErrorContext(ctx, "auth: recovery ticket not issued", "error", err)
		return "", time.Time{}
	}
	return ticket, exp
}

func (s *AuthService) signOut(ctx context.Context, sess *domain.Session) {
	if sess.Token == "" {
		return
	}
	if err := s.identities.SignOut(ctx, sess.Token); err != nil {
		s.log.WarnContext(ctx, "auth: sign out failed", "identity_id", sess.Identity.ID, "error", err)
	}
}

func (s *AuthService) emitDegraded(ctx context.Context, email, identityID string, cls orphan.Classification, site policyengine.CallSite) {
	s.emit(ctx, &telemetrydomain.Event{
		EventType:     telemetrydomain.EventClassificationDegrade,
		CorrelationID: cls.CorrelationID,
		EmailHash:     security.HashEmail(email),
		IdentityID:    identityID,
		Outcome:       cls.Outcome(),
		Attributes: map[string]string{
			"call_site": string(site),
			"timed_out": boolString(cls.TimedOut),
			"had_error": boolString(cls.HadError),
		},
	})
}

func (s *AuthService) emit(ctx context.Context, ev *telemetrydomain.Event) {
	if s.events == nil {
		return
	}
	ev.Source = telemetrySource
	telemetry.EmitAsync(s.events, ctx, ev)
}

func degradedInput(cls orphan.Classification, site policyengine.CallSite) policyengine.DegradedInput {
	return policyengine.DegradedInput{CallSite: site, TimedOut: cls.TimedOut, HadError: cls.HadError}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
