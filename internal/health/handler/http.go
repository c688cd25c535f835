// Package handler exposes health over HTTP and the standard gRPC health service.
package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"orphan-recovery/internal/health"
)

// Runner produces a readiness report. Implemented by health.Checker.
type Runner interface {
	Run(ctx context.Context) health.Report
}

// HTTPHandler serves /health (liveness) and /ready (readiness).
type HTTPHandler struct {
	checks Runner
}

// NewHTTPHandler returns an HTTPHandler backed by checks.
func NewHTTPHandler(checks Runner) *HTTPHandler {
	return &HTTPHandler{checks: checks}
}

// Register mounts the health routes on e.
func (h *HTTPHandler) Register(e *echo.Echo) {
	e.GET("/health", h.Live)
	e.GET("/ready", h.Ready)
}

// Live reports that the process is serving. It touches no dependency.
func (h *HTTPHandler) Live(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": health.StatusOK})
}

// Ready runs every readiness check. 503 when any fails.
func (h *HTTPHandler) Ready(c echo.Context) error {
	report := h.checks.Run(c.Request().Context())
	if !report.Ready() {
		return c.JSON(http.StatusServiceUnavailable, report)
	}
	return c.JSON(http.StatusOK, report)
}
