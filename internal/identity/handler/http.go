// Package handler exposes orphan-aware sign-in and the registration probe over HTTP (echo).
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"orphan-recovery/internal/identity/domain"
	"orphan-recovery/internal/identity/service"
	"orphan-recovery/internal/platform/logger"
	recoverydomain "orphan-recovery/internal/recovery/domain"
	recoveryhandler "orphan-recovery/internal/recovery/handler"
	"orphan-recovery/internal/security"
)

// AuthService is the orphan-aware sign-in. Implemented by service.AuthService.
type AuthService interface {
	Login(ctx context.Context, email, password string) (*service.LoginOutcome, error)
	ProbeRegistration(ctx context.Context, email string) (*service.ProbeResult, error)
	StartFresh(ctx context.Context, email, correlationID string) (*recoverydomain.RequestResult, error)
}

// AuthHandler serves /v1/auth/* and /v1/registration/*.
type AuthHandler struct {
	svc AuthService
	log *slog.Logger
}

// NewAuthHandler returns an AuthHandler.
func NewAuthHandler(svc AuthService, log *slog.Logger) *AuthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AuthHandler{svc: svc, log: log}
}

// Register mounts the auth and registration routes on g.
func (h *AuthHandler) Register(g *echo.Group) {
	g.POST("/auth/login", h.Login)
	g.POST("/registration/probe", h.Probe)
	g.POST("/registration/start-fresh", h.StartFresh)
}

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	State           string     `json:"state"`
	IdentityID      string     `json:"identity_id,omitempty"`
	SessionToken    string     `json:"session_token,omitempty"`
	Degraded        bool       `json:"degraded,omitempty"`
	Email           string     `json:"email,omitempty"`
	CorrelationID   string     `json:"correlation_id,omitempty"`
	RecoveryTicket  string     `json:"recovery_ticket,omitempty"`
	TicketExpiresAt *time.Time `json:"ticket_expires_at,omitempty"`
}

type emailBody struct {
	Email string `json:"email"`
}

type probeResponse struct {
	Status         string   `json:"status"`
	CorrelationID  string   `json:"correlation_id"`
	Options        []string `json:"options,omitempty"`
	RecoveryTicket string   `json:"recovery_ticket,omitempty"`
	Flagged        bool     `json:"flagged,omitempty"`
}

type startFreshResponse struct {
	Accepted      bool   `json:"accepted"`
	CorrelationID string `json:"correlation_id"`
}

// Login runs the sign-in state machine and reports its terminal state.
func (h *AuthHandler) Login(c echo.Context) error {
	ctx := c.Request().Context()

	var body loginBody
	if err := c.Bind(&body); err != nil {
		return badRequest("malformed request body")
	}
	if !security.ValidEmail(body.Email) || body.Password == "" {
		return badRequest("email and password are required")
	}

	out, err := h.svc.Login(ctx, body.Email, body.Password)
	if err != nil {
		h.log.ErrorContext(ctx, "auth: login failed", "error", err, "remote_addr", c.RealIP())
		return mapAuthError(err)
	}

	switch out.State {
	case service.StateAuthFailed:
		return echo.NewHTTPError(http.StatusUnauthorized, recoveryhandler.ErrorBody{
			Code: "AUTH_FAILED", Message: "invalid email or password",
		})
	case service.StateEmailUnverified:
		return echo.NewHTTPError(http.StatusForbidden, recoveryhandler.ErrorBody{
			Code: "EMAIL_UNVERIFIED", Message: "verify your email before signing in",
		})
	case service.StateBlocked:
		return echo.NewHTTPError(http.StatusServiceUnavailable, recoveryhandler.ErrorBody{
			Code: "UNAVAILABLE", Message: "account status could not be confirmed; try again",
		})
	case service.StateRecoveryRedirect:
		resp := loginResponse{
			State:          string(out.State),
			Email:          out.Email,
			CorrelationID:  out.CorrelationID,
			RecoveryTicket: out.RecoveryTicket,
		}
		if !out.TicketExpiresAt.IsZero() {
			exp := out.TicketExpiresAt
			resp.TicketExpiresAt = &exp
		}
		return c.JSON(http.StatusOK, resp)
	default:
		resp := loginResponse{State: string(out.State), Degraded: out.Degraded}
		if out.Session != nil {
			resp.SessionToken = out.Session.Token
			resp.IdentityID = out.Session.Identity.ID
		}
		return c.JSON(http.StatusOK, resp)
	}
}

// Probe reports the registration status of an email.
func (h *AuthHandler) Probe(c echo.Context) error {
	ctx := c.Request().Context()

	var body emailBody
	if err := c.Bind(&body); err != nil {
		return badRequest("malformed request body")
	}
	if !security.ValidEmail(body.Email) {
		return badRequest("a valid email is required")
	}

	res, err := h.svc.ProbeRegistration(ctx, body.Email)
	if err != nil {
		h.log.ErrorContext(ctx, "auth: registration probe failed", "error", err)
		return mapAuthError(err)
	}
	return c.JSON(http.StatusOK, probeResponse{
		Status:         string(res.Status),
		CorrelationID:  res.CorrelationID,
		Options:        res.Options,
		RecoveryTicket: res.RecoveryTicket,
		Flagged:        res.Flagged,
	})
}

// StartFresh issues a cleanup code for an orphaned signup email. Responds like /v1/recovery/code.
func (h *AuthHandler) StartFresh(c echo.Context) error {
	ctx := c.Request().Context()
	corrID := logger.CorrelationID(ctx)

	var body emailBody
	if err := c.Bind(&body); err != nil {
		return badRequest("malformed request body")
	}
	if !security.ValidEmail(body.Email) {
		return badRequest("a valid email is required")
	}

	res, err := h.svc.StartFresh(ctx, body.Email, corrID)
	if err != nil {
		if errors.Is(err, recoverydomain.ErrNotFound) {
			var rerr *recoverydomain.Error
			if errors.As(err, &rerr) && rerr.CorrelationID != "" {
				corrID = rerr.CorrelationID
			}
			return c.JSON(http.StatusAccepted, startFreshResponse{Accepted: true, CorrelationID: corrID})
		}
		h.log.WarnContext(ctx, "auth: start fresh failed", "error", err)
		return recoveryhandler.MapRecoveryError(err, corrID)
	}
	return c.JSON(http.StatusAccepted, startFreshResponse{Accepted: res.Accepted, CorrelationID: res.CorrelationID})
}

// mapAuthError converts a service error into an echo.HTTPError.
func mapAuthError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, domain.ErrProviderUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, recoveryhandler.ErrorBody{
			Code: "PROVIDER_UNAVAILABLE", Message: "identity provider unavailable",
		})
	case errors.Is(err, service.ErrClassificationUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, recoveryhandler.ErrorBody{
			Code: "UNAVAILABLE", Message: "account status could not be confirmed; try again",
		})
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, recoveryhandler.ErrorBody{
			Code: "INTERNAL", Message: "internal error",
		})
	}
}

func badRequest(msg string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusBadRequest, recoveryhandler.ErrorBody{Code: "BAD_REQUEST", Message: msg})
}
