// Package http provides the HTTP servers for runhook.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/gogo/runhook/internal/auth"
	"github.com/xiaot623/gogo/runhook/internal/service"
	"github.com/xiaot623/gogo/runhook/internal/transport/http/internalapi"
	v1 "github.com/xiaot623/gogo/runhook/internal/transport/http/v1"
)

// NewExternalServer creates the owner-facing HTTP server.
func NewExternalServer(svc *service.Service) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())

	v1.NewHandler(svc).RegisterRoutes(e)

	return e
}

// NewInternalServer creates the server sandbox workers call back into.
func NewInternalServer(svc *service.Service, tokens *auth.TokenIssuer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit("10M"))

	internalapi.NewHandler(svc, tokens).RegisterRoutes(e)

	return e
}
