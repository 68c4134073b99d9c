package signature

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Middleware verifies signed callback deliveries on the receiving side.
// Requests that are unsigned, stale or forged get 401.
func Middleware(secret []byte, maxAge time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			body, err := io.ReadAll(req.Body)
			if err != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable body"})
			}
			req.Body = io.NopCloser(bytes.NewReader(body))

			err = VerifyRequest(body, secret, req.Header.Get(HeaderSignature), req.Header.Get(HeaderTimestamp), time.Now(), maxAge)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": err.Error()})
			}
			return next(c)
		}
	}
}
