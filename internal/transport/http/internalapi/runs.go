package internalapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/runhook/internal/domain"
	"github.com/xiaot623/gogo/runhook/internal/transport/http/respond"
)

// Complete reports the worker's exit.
// POST /internal/webhooks/complete
func (h *Handler) Complete(c echo.Context) error {
	var req domain.CompleteRequest
	if err := c.Bind(&req); err != nil {
		return respond.BadRequest(c, "invalid request body")
	}
	if req.RunID == "" {
		return respond.BadRequest(c, "runId is required")
	}
	claims, err := runClaims(c, req.RunID)
	if err != nil {
		return respond.Error(c, err)
	}
	req.OwnerID = claims.OwnerID

	res, err := h.service.Complete(c.Request().Context(), &req)
	if err != nil {
		return respond.Error(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// CreateCheckpoint records the worker's snapshot.
// POST /internal/webhooks/checkpoints
func (h *Handler) CreateCheckpoint(c echo.Context) error {
	var req domain.CheckpointRequest
	if err := c.Bind(&req); err != nil {
		return respond.BadRequest(c, "invalid request body")
	}
	claims, err := runClaims(c, req.RunID)
	if err != nil {
		return respond.Error(c, err)
	}
	req.RunID = claims.RunID

	res, err := h.service.CreateCheckpoint(c.Request().Context(), claims.OwnerID, &req)
	if err != nil {
		return respond.Error(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Heartbeat marks the worker alive.
// POST /internal/webhooks/heartbeat
func (h *Handler) Heartbeat(c echo.Context) error {
	var req domain.HeartbeatRequest
	if err := c.Bind(&req); err != nil {
		return respond.BadRequest(c, "invalid request body")
	}
	claims, err := runClaims(c, req.RunID)
	if err != nil {
		return respond.Error(c, err)
	}

	if err := h.service.Heartbeat(c.Request().Context(), claims.OwnerID, claims.RunID); err != nil {
		return respond.Error(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}
