package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/eyes/internal/domain"
)

// ListRouting returns every routing record.
func (h *Handler) ListRouting(c echo.Context) error {
	routing, err := h.service.ListRouting(c.Request().Context())
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"routing": routing})
}

// GetRouting returns the routing of one stage.
func (h *Handler) GetRouting(c echo.Context) error {
	routing, err := h.service.GetRouting(c.Request().Context(), c.Param("stage"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, routing)
}

// SetRouting replaces the routing of one stage.
func (h *Handler) SetRouting(c echo.Context) error {
	var req domain.SetRoutingRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	routing, err := h.service.SetRouting(c.Request().Context(), c.Param("stage"), req)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, routing)
}
