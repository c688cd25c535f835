// Package handler exposes the cleanup flow over HTTP (echo).
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"orphan-recovery/internal/devcode"
	identitydomain "orphan-recovery/internal/identity/domain"
	"orphan-recovery/internal/orphan"
	"orphan-recovery/internal/platform/logger"
	"orphan-recovery/internal/recovery/domain"
	"orphan-recovery/internal/security"
)

// CleanupService is the two-step cleanup flow. Implemented by service.CleanupService.
type CleanupService interface {
	RequestCleanupCode(ctx context.Context, email, correlationID string) (*domain.RequestResult, error)
	ValidateAndCleanup(ctx context.Context, email, code, correlationID string) (*domain.CleanupResult, error)
}

// OrphanChecker classifies an identity. Implemented by orphan.Classifier.
type OrphanChecker interface {
	Check(ctx context.Context, identityID, correlationID string) orphan.Classification
}

// TicketParser validates recovery tickets. Implemented by security.TicketIssuer.
type TicketParser interface {
	Parse(ticket string) (*security.TicketClaims, error)
}

// IdentityLookup resolves an identity by ID. Implemented by gateway.KratosGateway.
type IdentityLookup interface {
	GetByID(ctx context.Context, id string) (*identitydomain.Identity, error)
}

// Handler serves /v1/recovery/*.
type Handler struct {
	svc        CleanupService
	classifier OrphanChecker
	identities IdentityLookup
	tickets    TicketParser
	log        *slog.Logger
}

// NewHandler returns a recovery handler. tickets may be nil, in which case a ticket in the
// request body is ignored and the orphan-check route is not mounted.
func NewHandler(svc CleanupService, classifier OrphanChecker, identities IdentityLookup, tickets TicketParser, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, classifier: classifier, identities: identities, tickets: tickets, log: log}
}

// Register mounts the recovery routes on g.
func (h *Handler) Register(g *echo.Group) {
	g.POST("/recovery/code", h.RequestCode)
	g.POST("/recovery/cleanup", h.Cleanup)
	if h.tickets != nil && h.identities != nil {
		g.POST("/recovery/orphan-check", h.OrphanCheck)
	}
}

type requestCodeBody struct {
	Email  string `json:"email"`
	Ticket string `json:"ticket"`
}

type requestCodeResponse struct {
	Accepted      bool   `json:"accepted"`
	CorrelationID string `json:"correlation_id"`
}

type cleanupBody struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type cleanupResponse struct {
	Deleted       bool   `json:"deleted"`
	CorrelationID string `json:"correlation_id"`
}

type orphanCheckBody struct {
	IdentityID string `json:"identity_id"`
	Ticket     string `json:"ticket"`
}

type orphanCheckResponse struct {
	IsOrphaned    bool     `json:"is_orphaned"`
	HasProfile    *bool    `json:"has_profile"`
	HasMembership *bool    `json:"has_membership"`
	Degraded      bool     `json:"degraded"`
	TimedOut      bool     `json:"timed_out"`
	HadError      bool     `json:"had_error"`
	Missing       []string `json:"missing,omitempty"`
	DurationMS    int64    `json:"duration_ms"`
	Attempts      int      `json:"attempts"`
	CorrelationID string   `json:"correlation_id"`
}

// ErrorBody is the JSON body of every non-2xx recovery response.
type ErrorBody struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// RequestCode is step 1. A valid ticket continues the correlation ID of the login that issued it.
// A NOT_FOUND result is answered exactly like an accepted request.
func (h *Handler) RequestCode(c echo.Context) error {
	ctx := c.Request().Context()
	corrID := logger.CorrelationID(ctx)

	var body requestCodeBody
	if err := c.Bind(&body); err != nil {
		return badRequest("malformed request body", corrID)
	}
	if body.Ticket != "" && h.tickets != nil {
		claims, err := h.tickets.Parse(body.Ticket)
		if err != nil {
			return invalidTicket(corrID)
		}
		if body.Email == "" {
			body.Email = claims.Email
		}
		if security.NormalizeEmail(body.Email) != claims.Email {
			return invalidTicket(corrID)
		}
		if claims.CorrelationID != "" {
			corrID = claims.CorrelationID
		}
	}
	if !security.ValidEmail(body.Email) {
		return badRequest("a valid email is required", corrID)
	}

	res, err := h.svc.RequestCleanupCode(ctx, body.Email, corrID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusAccepted, requestCodeResponse{Accepted: true, CorrelationID: correlationOf(err, corrID)})
		}
		h.logFailure(ctx, "request code", err)
		return MapRecoveryError(err, corrID)
	}
	return c.JSON(http.StatusAccepted, requestCodeResponse{Accepted: res.Accepted, CorrelationID: res.CorrelationID})
}

// Cleanup is step 2.
func (h *Handler) Cleanup(c echo.Context) error {
	ctx := c.Request().Context()
	corrID := logger.CorrelationID(ctx)

	var body cleanupBody
	if err := c.Bind(&body); err != nil {
		return badRequest("malformed request body", corrID)
	}
	if !security.ValidEmail(body.Email) {
		return badRequest("a valid email is required", corrID)
	}
	code := strings.TrimSpace(body.Code)
	if code == "" {
		return badRequest("code is required", corrID)
	}

	res, err := h.svc.ValidateAndCleanup(ctx, body.Email, code, corrID)
	if err != nil {
		h.logFailure(ctx, "cleanup", err)
		return MapRecoveryError(err, corrID)
	}
	return c.JSON(http.StatusOK, cleanupResponse{Deleted: res.Deleted, CorrelationID: res.CorrelationID})
}

// OrphanCheck runs the classifier for one identity and returns the raw classification.
// The caller must hold a recovery ticket issued for the identity's email. An unknown identity
// is answered like a ticket mismatch.
func (h *Handler) OrphanCheck(c echo.Context) error {
	ctx := c.Request().Context()
	corrID := logger.CorrelationID(ctx)

	var body orphanCheckBody
	if err := c.Bind(&body); err != nil {
		return badRequest("malformed request body", corrID)
	}
	id := strings.TrimSpace(body.IdentityID)
	if id == "" {
		return badRequest("identity_id is required", corrID)
	}
	if body.Ticket == "" {
		return invalidTicket(corrID)
	}
	claims, err := h.tickets.Parse(body.Ticket)
	if err != nil {
		return invalidTicket(corrID)
	}
	if claims.CorrelationID != "" {
		corrID = claims.CorrelationID
	}

	ident, err := h.identities.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, identitydomain.ErrNotFound) {
			return invalidTicket(corrID)
		}
		h.log.ErrorContext(ctx, "recovery: orphan check identity lookup failed", "error", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, ErrorBody{
			Code: string(domain.KindUnavailable), Message: "account status could not be confirmed; try again", CorrelationID: corrID,
		})
	}
	if security.NormalizeEmail(ident.Email) != claims.Email {
		return invalidTicket(corrID)
	}

	res := h.classifier.Check(ctx, ident.ID, corrID)
	return c.JSON(http.StatusOK, orphanCheckResponse{
		IsOrphaned:    res.IsOrphaned,
		HasProfile:    res.HasProfile,
		HasMembership: res.HasMembership,
		Degraded:      res.Degraded,
		TimedOut:      res.TimedOut,
		HadError:      res.HadError,
		Missing:       res.MissingSignals(),
		DurationMS:    res.Duration.Milliseconds(),
		Attempts:      res.Attempts,
		CorrelationID: res.CorrelationID,
	})
}

func (h *Handler) logFailure(ctx context.Context, op string, err error) {
	level := slog.LevelWarn
	if errors.Is(err, domain.ErrInternal) || errors.Is(err, domain.ErrUnavailable) {
		level = slog.LevelError
	}
	h.log.Log(ctx, level, "recovery: "+op+" failed", "error", err)
}

// DevHandler serves dev-only helpers. Never mounted in production.
type DevHandler struct {
	codes devcode.Store
}

// NewDevHandler returns a DevHandler reading from codes.
func NewDevHandler(codes devcode.Store) *DevHandler {
	return &DevHandler{codes: codes}
}

// Register mounts the dev routes on g.
func (h *DevHandler) Register(g *echo.Group) {
	g.GET("/recovery/code", h.GetCode)
}

// GetCode returns the last plaintext cleanup code sent to ?email=.
func (h *DevHandler) GetCode(c echo.Context) error {
	email := c.QueryParam("email")
	if !security.ValidEmail(email) {
		return badRequest("a valid email is required", "")
	}
	code, ok := h.codes.Get(c.Request().Context(), email)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, ErrorBody{Code: "NOT_FOUND", Message: "no code for email"})
	}
	return c.JSON(http.StatusOK, map[string]string{"code": code})
}

// MapRecoveryError converts a cleanup error into an echo.HTTPError carrying an ErrorBody.
func MapRecoveryError(err error, fallbackCorrID string) *echo.HTTPError {
	corrID := correlationOf(err, fallbackCorrID)
	var rerr *domain.Error
	if !errors.As(err, &rerr) {
		return echo.NewHTTPError(http.StatusInternalServerError, ErrorBody{
			Code: string(domain.KindInternal), Message: "internal error", CorrelationID: corrID,
		})
	}
	status, msg := statusFor(rerr.Kind)
	return echo.NewHTTPError(status, ErrorBody{Code: string(rerr.Kind), Message: msg, CorrelationID: corrID})
}

func statusFor(kind domain.Kind) (int, string) {
	switch kind {
	case domain.KindLockConflict:
		return http.StatusConflict, "another cleanup for this email is in progress"
	case domain.KindNotFound:
		return http.StatusNotFound, "account not found"
	case domain.KindNotOrphaned:
		return http.StatusConflict, "account is not eligible for cleanup"
	case domain.KindCodeExpired:
		return http.StatusGone, "code expired or not issued; request a new one"
	case domain.KindInvalidCode:
		return http.StatusUnauthorized, "invalid code"
	case domain.KindUnavailable:
		return http.StatusServiceUnavailable, "account status could not be confirmed; try again"
	case domain.KindInternal:
		return http.StatusInternalServerError, "internal error"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func correlationOf(err error, fallback string) string {
	var rerr *domain.Error
	if errors.As(err, &rerr) && rerr.CorrelationID != "" {
		return rerr.CorrelationID
	}
	return fallback
}

func invalidTicket(corrID string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusUnauthorized, ErrorBody{
		Code: "INVALID_TICKET", Message: "recovery link is invalid or expired", CorrelationID: corrID,
	})
}

func badRequest(msg, corrID string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusBadRequest, ErrorBody{Code: "BAD_REQUEST", Message: msg, CorrelationID: corrID})
}
