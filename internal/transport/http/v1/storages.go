package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/runhook/internal/auth"
	"github.com/xiaot623/gogo/runhook/internal/domain"
	"github.com/xiaot623/gogo/runhook/internal/transport/http/respond"
)

// PrepareStorage resolves a version and returns presigned uploads.
// POST /v1/storages/prepare
func (h *Handler) PrepareStorage(c echo.Context) error {
	var req domain.PrepareStorageRequest
	if err := c.Bind(&req); err != nil {
		return respond.BadRequest(c, "invalid request body")
	}

	res, err := h.service.PrepareStorage(c.Request().Context(), auth.UserIDFrom(c), &req)
	if err != nil {
		return respond.Error(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// CommitStorage records an uploaded version.
// POST /v1/storages/commit
func (h *Handler) CommitStorage(c echo.Context) error {
	var req domain.CommitStorageRequest
	if err := c.Bind(&req); err != nil {
		return respond.BadRequest(c, "invalid request body")
	}

	res, err := h.service.CommitStorage(c.Request().Context(), auth.UserIDFrom(c), &req)
	if err != nil {
		return respond.Error(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// GetStorage returns a storage and its HEAD version.
// GET /v1/storages/:type/:name
func (h *Handler) GetStorage(c echo.Context) error {
	storageType := domain.StorageType(c.Param("type"))
	res, err := h.service.GetStorage(c.Request().Context(), auth.UserIDFrom(c), c.Param("name"), storageType)
	if err != nil {
		return respond.Error(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
