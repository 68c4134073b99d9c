package auth

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/runhook/internal/domain"
	"github.com/xiaot623/gogo/runhook/internal/transport/http/respond"
)

// HeaderUserID carries the owner identity set by the fronting gateway.
const HeaderUserID = "X-User-ID"

const (
	claimsKey = "auth.claims"
	userKey   = "auth.user_id"
)

// SandboxMiddleware requires a valid Bearer sandbox token.
func SandboxMiddleware(issuer *TokenIssuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				return respond.Error(c, domain.NewAuthError("missing sandbox token"))
			}
			claims, err := issuer.Parse(token)
			if err != nil {
				return respond.Error(c, domain.NewAuthError(err.Error()))
			}
			c.Set(claimsKey, claims)
			return next(c)
		}
	}
}

// UserMiddleware requires the owner identity header.
func UserMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := strings.TrimSpace(c.Request().Header.Get(HeaderUserID))
			if userID == "" {
				return respond.Error(c, domain.NewAuthError("missing "+HeaderUserID+" header"))
			}
			// The owner prefixes object-store keys.
			if userID == "." || userID == ".." || strings.Contains(userID, "/") {
				return respond.Error(c, domain.NewAuthError("invalid "+HeaderUserID+" header"))
			}
			c.Set(userKey, userID)
			return next(c)
		}
	}
}

// ClaimsFrom returns the sandbox claims stored by SandboxMiddleware.
func ClaimsFrom(c echo.Context) *Claims {
	claims, _ := c.Get(claimsKey).(*Claims)
	return claims
}

// UserIDFrom returns the owner stored by UserMiddleware.
func UserIDFrom(c echo.Context) string {
	userID, _ := c.Get(userKey).(string)
	return userID
}

// WithClaims stores claims on c. Used by tests that bypass the middleware.
func WithClaims(c echo.Context, claims *Claims) {
	c.Set(claimsKey, claims)
}

// WithUserID stores the owner on c.
func WithUserID(c echo.Context, userID string) {
	c.Set(userKey, userID)
}
