// Package http provides the HTTP server implementation for the eyes service.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	xlog "github.com/xiaot623/gogo/eyes/internal/log"
	"github.com/xiaot623/gogo/eyes/internal/service"
	v1 "github.com/xiaot623/gogo/eyes/internal/transport/http/v1"
	"github.com/xiaot623/gogo/eyes/internal/transport/ws"
)

// Config tunes the HTTP surface.
type Config struct {
	// RateLimitRPS limits stage invocations per client IP. Zero disables it.
	RateLimitRPS float64
}

// NewServer creates the HTTP server serving the v1 API, the event stream,
// health and metrics.
func NewServer(svc *service.Service, stream *ws.Server, cfg Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	logger := xlog.WithComponent("http")

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			ctx := xlog.ContextWithRequestID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
		},
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := logger.Info()
			if v.Error != nil {
				ev = logger.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	}))

	var invoke []echo.MiddlewareFunc
	if cfg.RateLimitRPS > 0 {
		store := middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.RateLimitRPS))
		invoke = append(invoke, middleware.RateLimiter(store))
	}

	// Handlers
	v1.NewHandler(svc).RegisterRoutes(e, invoke...)
	if stream != nil {
		stream.RegisterRoutes(e)
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}
