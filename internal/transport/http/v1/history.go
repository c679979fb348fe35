package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// ListEvents returns persisted events after the since cursor.
func (h *Handler) ListEvents(c echo.Context) error {
	var since int64
	if raw := c.QueryParam("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			return badRequest(c, "since must be a non-negative integer")
		}
		since = v
	}
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return badRequest(c, "limit must be an integer")
		}
		limit = v
	}

	events, err := h.service.ListEvents(c.Request().Context(), c.Param("session_id"), since, limit)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"events": events})
}

// ListRuns returns the stage runs of a session.
func (h *Handler) ListRuns(c echo.Context) error {
	runs, err := h.service.ListRuns(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"runs": runs})
}
