// Package v1 provides the public HTTP API of the eyes service.
package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/eyes/internal/repository"
	"github.com/xiaot623/gogo/eyes/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers the v1 routes. invoke wraps the stage invocation
// route only.
func (h *Handler) RegisterRoutes(e *echo.Echo, invoke ...echo.MiddlewareFunc) {
	// Sessions
	e.POST("/v1/sessions", h.CreateSession)
	e.GET("/v1/sessions", h.ListSessions)
	e.GET("/v1/sessions/:session_id", h.GetSession)
	e.POST("/v1/sessions/:session_id/kill", h.KillSession)
	e.PATCH("/v1/sessions/:session_id/status", h.UpdateSessionStatus)

	// Stages
	e.GET("/v1/stages", h.ListStages)
	e.POST("/v1/sessions/:session_id/stages/:stage", h.InvokeStage, invoke...)

	// History
	e.GET("/v1/sessions/:session_id/events", h.ListEvents)
	e.GET("/v1/sessions/:session_id/runs", h.ListRuns)

	// Routing admin
	e.GET("/v1/routing", h.ListRouting)
	e.GET("/v1/routing/:stage", h.GetRouting)
	e.PUT("/v1/routing/:stage", h.SetRouting)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// errorJSON maps service errors onto status codes.
func errorJSON(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrSessionExists):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrInvalidConfig),
		errors.Is(err, service.ErrInvalidRouting),
		errors.Is(err, service.ErrUnknownStage):
		status = http.StatusBadRequest
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}
