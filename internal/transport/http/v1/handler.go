// Package v1 provides the owner-facing HTTP API.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/runhook/internal/auth"
	"github.com/xiaot623/gogo/runhook/internal/service"
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

// RegisterRoutes registers external routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/v1", auth.UserMiddleware())

	// Runs
	g.POST("/runs", h.CreateRun)
	g.GET("/runs/:run_id", h.GetRun)
	g.GET("/runs/:run_id/events", h.GetRunEvents)

	// Callbacks
	g.POST("/runs/:run_id/callbacks", h.RegisterCallback)
	g.GET("/runs/:run_id/callbacks", h.ListCallbacks)

	// Storages
	g.POST("/storages/prepare", h.PrepareStorage)
	g.POST("/storages/commit", h.CommitStorage)
	g.GET("/storages/:type/:name", h.GetStorage)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
