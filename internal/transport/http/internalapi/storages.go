package internalapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/runhook/internal/domain"
	"github.com/xiaot623/gogo/runhook/internal/transport/http/respond"
)

// PrepareStorage resolves a version for the sandbox owner's storage.
// POST /internal/webhooks/storages/prepare
func (h *Handler) PrepareStorage(c echo.Context) error {
	var req domain.PrepareStorageRequest
	if err := c.Bind(&req); err != nil {
		return respond.BadRequest(c, "invalid request body")
	}
	claims, err := runClaims(c, req.RunID)
	if err != nil {
		return respond.Error(c, err)
	}
	req.RunID = claims.RunID

	res, err := h.service.PrepareStorage(c.Request().Context(), claims.OwnerID, &req)
	if err != nil {
		return respond.Error(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// CommitStorage records an uploaded version.
// POST /internal/webhooks/storages/commit
func (h *Handler) CommitStorage(c echo.Context) error {
	var req domain.CommitStorageRequest
	if err := c.Bind(&req); err != nil {
		return respond.BadRequest(c, "invalid request body")
	}
	claims, err := runClaims(c, req.RunID)
	if err != nil {
		return respond.Error(c, err)
	}
	req.RunID = claims.RunID

	res, err := h.service.CommitStorage(c.Request().Context(), claims.OwnerID, &req)
	if err != nil {
		return respond.Error(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
