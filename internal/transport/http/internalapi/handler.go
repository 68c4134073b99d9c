// Package internalapi provides the webhooks called by sandbox workers.
// Every route requires a sandbox token.
package internalapi

import (
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/runhook/internal/auth"
	"github.com/xiaot623/gogo/runhook/internal/domain"
	"github.com/xiaot623/gogo/runhook/internal/service"
)

// Handler handles webhook requests from sandboxes.
type Handler struct {
	service *service.Service
	tokens  *auth.TokenIssuer
}

// NewHandler creates a new internal API handler.
func NewHandler(service *service.Service, tokens *auth.TokenIssuer) *Handler {
	return &Handler{
		service: service,
		tokens:  tokens,
	}
}

// RegisterRoutes registers internal routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/internal/webhooks", auth.SandboxMiddleware(h.tokens))

	// Run lifecycle
	g.POST("/complete", h.Complete)
	g.POST("/checkpoints", h.CreateCheckpoint)
	g.POST("/heartbeat", h.Heartbeat)

	// Storage uploads
	g.POST("/storages/prepare", h.PrepareStorage)
	g.POST("/storages/commit", h.CommitStorage)
}

// runClaims returns the token claims if they cover runID. A mismatch is
// reported as an auth failure so other runs' existence is not revealed.
func runClaims(c echo.Context, runID string) (*auth.Claims, error) {
	claims := auth.ClaimsFrom(c)
	if claims == nil {
		return nil, domain.NewAuthError("missing sandbox token")
	}
	if runID != "" && runID != claims.RunID {
		return nil, domain.NewAuthError("token does not grant access to run " + runID)
	}
	return claims, nil
}
