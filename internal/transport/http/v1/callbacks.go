package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/runhook/internal/auth"
	"github.com/xiaot623/gogo/runhook/internal/domain"
	"github.com/xiaot623/gogo/runhook/internal/transport/http/respond"
)

// RegisterCallback subscribes a URL to the run's outcome.
// POST /v1/runs/:run_id/callbacks
func (h *Handler) RegisterCallback(c echo.Context) error {
	var req domain.RegisterCallbackRequest
	if err := c.Bind(&req); err != nil {
		return respond.BadRequest(c, "invalid request body")
	}

	res, err := h.service.RegisterCallback(c.Request().Context(), auth.UserIDFrom(c), c.Param("run_id"), &req)
	if err != nil {
		return respond.Error(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// ListCallbacks returns the run's registrations and their delivery state.
// GET /v1/runs/:run_id/callbacks
func (h *Handler) ListCallbacks(c echo.Context) error {
	callbacks, err := h.service.ListCallbacks(c.Request().Context(), auth.UserIDFrom(c), c.Param("run_id"))
	if err != nil {
		return respond.Error(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"callbacks": callbacks,
	})
}
