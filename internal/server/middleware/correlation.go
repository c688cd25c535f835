// Package middleware holds the echo middleware shared by every route.
package middleware

import (
	"regexp"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"orphan-recovery/internal/platform/logger"
)

// HeaderCorrelationID carries the correlation ID in and out of every request.
const HeaderCorrelationID = "X-Correlation-ID"

var validCorrelationID = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// CorrelationID puts the request's correlation ID on the request context (see logger.CorrelationID)
// and echoes it in the response. A missing or malformed inbound value is replaced with a new UUID.
func CorrelationID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(HeaderCorrelationID)
			if !validCorrelationID.MatchString(id) {
				id = uuid.New().String()
			}
			req := c.Request()
			c.SetRequest(req.WithContext(logger.WithCorrelationID(req.Context(), id)))
			c.Response().Header().Set(HeaderCorrelationID, id)
			return next(c)
		}
	}
}
