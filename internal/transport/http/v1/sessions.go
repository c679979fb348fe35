package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/eyes/internal/domain"
	"github.com/xiaot623/gogo/eyes/internal/repository"
)

// CreateSession handles session creation. The body is optional.
func (h *Handler) CreateSession(c echo.Context) error {
	var req domain.CreateSessionRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}

	session, err := h.service.CreateSession(c.Request().Context(), req)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusCreated, session)
}

// GetSession retrieves a session.
func (h *Handler) GetSession(c echo.Context) error {
	session, err := h.service.GetSession(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// ListSessions lists recent sessions, optionally filtered by status.
func (h *Handler) ListSessions(c echo.Context) error {
	filter := repository.SessionFilter{Status: domain.SessionStatus(c.QueryParam("status"))}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return badRequest(c, "limit must be an integer")
		}
		filter.Limit = limit
	}

	sessions, err := h.service.ListSessions(c.Request().Context(), filter)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": sessions})
}

// KillSession marks a session killed.
func (h *Handler) KillSession(c echo.Context) error {
	var req struct {
		Reason string `json:"reason"`
	}
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}

	session, err := h.service.KillSession(c.Request().Context(), c.Param("session_id"), req.Reason)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// UpdateSessionStatus applies an external lifecycle change.
func (h *Handler) UpdateSessionStatus(c echo.Context) error {
	var req domain.UpdateSessionStatusRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	session, err := h.service.UpdateSessionStatus(c.Request().Context(), c.Param("session_id"), req)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, session)
}
