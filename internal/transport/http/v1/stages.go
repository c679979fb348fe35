package v1

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/eyes/internal/domain"
)

// ListStages describes the registered pipeline.
func (h *Handler) ListStages(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"stages": h.service.ListStages()})
}

// InvokeStage runs a stage. The response body is always an envelope and the
// status code follows the envelope code.
func (h *Handler) InvokeStage(c echo.Context) error {
	stage := c.Param("stage")

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		env := domain.NewFailureEnvelope(stage, domain.CodeInvalidRequest, "failed to read request body", nil)
		return c.JSON(env.Code.HTTPStatus(), env)
	}

	var req domain.InvokeStageRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			env := domain.NewFailureEnvelope(stage, domain.CodeInvalidRequest, "invalid request body", nil)
			return c.JSON(env.Code.HTTPStatus(), env)
		}
	}
	req.SessionID = c.Param("session_id")
	req.Stage = stage
	if req.RequestID == "" {
		req.RequestID = c.Response().Header().Get(echo.HeaderXRequestID)
	}

	env := h.service.InvokeStage(c.Request().Context(), req)
	return c.JSON(env.Code.HTTPStatus(), env)
}
