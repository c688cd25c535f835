// Package server assembles the HTTP (echo) and gRPC servers.
package server

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	healthhandler "orphan-recovery/internal/health/handler"
	identityhandler "orphan-recovery/internal/identity/handler"
	recoveryhandler "orphan-recovery/internal/recovery/handler"
	"orphan-recovery/internal/server/middleware"
)

// DefaultRateLimitPerMinute applies when HTTPDeps.RateLimitPerMinute is zero.
const DefaultRateLimitPerMinute = 30

// HTTPDeps holds the handlers and settings for the HTTP server.
type HTTPDeps struct {
	Recovery *recoveryhandler.Handler
	Auth     *identityhandler.AuthHandler
	Health   *healthhandler.HTTPHandler
	// Dev serves /dev/recovery/code. Leave nil in production.
	Dev *recoveryhandler.DevHandler

	ServiceName string
	// EnableOTel adds otelecho tracing and span status middleware.
	EnableOTel bool
	// RateLimitPerMinute is the per-IP budget for each of the auth and recovery route groups.
	RateLimitPerMinute int
	Log                *slog.Logger
}

// NewHTTPServer returns the echo instance with every route and middleware mounted.
// Rate limiter goroutines stop when the echo server shuts down.
func NewHTTPServer(d HTTPDeps) *echo.Echo {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	perMinute := d.RateLimitPerMinute
	if perMinute <= 0 {
		perMinute = DefaultRateLimitPerMinute
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.CorrelationID())
	if d.EnableOTel {
		e.Use(otelecho.Middleware(d.ServiceName))
		e.Use(middleware.OTelStatus())
	}
	e.Use(echomw.RequestLoggerWithConfig(requestLoggerConfig(log)))
	e.Use(echomw.Recover())

	if d.Health != nil {
		d.Health.Register(e)
	}
	if d.Recovery != nil {
		rl := middleware.PerMinute(perMinute)
		e.Server.RegisterOnShutdown(rl.Close)
		d.Recovery.Register(e.Group("/v1", rl.Middleware()))
	}
	if d.Auth != nil {
		rl := middleware.PerMinute(perMinute)
		e.Server.RegisterOnShutdown(rl.Close)
		d.Auth.Register(e.Group("/v1", rl.Middleware()))
	}
	if d.Dev != nil {
		log.Warn("dev routes enabled: /dev/recovery/code exposes plaintext cleanup codes")
		d.Dev.Register(e.Group("/dev"))
	}
	return e
}

func requestLoggerConfig(log *slog.Logger) echomw.RequestLoggerConfig {
	return echomw.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			p := c.Request().URL.Path
			return p == "/health" || p == "/ready"
		},
		LogStatus:   true,
		LogURIPath:  true,
		LogError:    true,
		LogMethod:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			rctx := c.Request().Context()
			if v.Error == nil {
				log.InfoContext(rctx, "request completed",
					"method", v.Method,
					"path", v.URIPath,
					"status", v.Status,
					"latency_ms", v.Latency.Milliseconds())
			} else {
				log.WarnContext(rctx, "request failed",
					"method", v.Method,
					"path", v.URIPath,
					"status", v.Status,
					"latency_ms", v.Latency.Milliseconds(),
					"error", v.Error.Error())
			}
			return nil
		},
	}
}
