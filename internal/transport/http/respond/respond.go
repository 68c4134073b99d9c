// Package respond renders service errors as the JSON error envelope.
package respond

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/runhook/internal/domain"
)

// Error codes carried in the envelope.
const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeInternal     = "INTERNAL_ERROR"
)

// Status maps an error kind to its HTTP status and envelope code.
func Status(kind domain.ErrorKind) (int, string) {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest, CodeBadRequest
	case domain.KindAuth:
		return http.StatusUnauthorized, CodeUnauthorized
	case domain.KindNotFound:
		return http.StatusNotFound, CodeNotFound
	case domain.KindConflict:
		return http.StatusConflict, CodeConflict
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// Error writes err as an envelope. Internal and dependency errors hide
// their cause from the caller.
func Error(c echo.Context, err error) error {
	status, code := Status(domain.KindOf(err))
	message := err.Error()
	var de *domain.Error
	if errors.As(err, &de) {
		message = de.Message
		if status != http.StatusInternalServerError && de.Err != nil {
			message = de.Error()
		}
	} else {
		message = "internal error"
	}
	return c.JSON(status, domain.ErrorBody{Error: domain.ErrorDetail{Message: message, Code: code}})
}

// BadRequest writes a validation envelope with message.
func BadRequest(c echo.Context, message string) error {
	return Error(c, domain.NewValidationError("%s", message))
}
