// Package handlers provides HTTP handler implementations for the public API.
//
// Every failure leaves through fail, so all errors share one envelope:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "message": "conversation not found"
//	}
//
// Service errors are translated by failService; messages for 5xx never carry
// the underlying cause, which is logged instead.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/study-assistant/internal/http/middleware"
	"github.com/tbourn/study-assistant/internal/services"
)

// ErrorResponse is the error envelope returned by all endpoints.
type ErrorResponse struct {
	// Echo of X-Request-ID, for matching a client error to server logs.
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable machine-readable code (see errors.go).
	Code string `json:"code" example:"not_found"`
	// Human-readable message, safe to show to users.
	Message string `json:"message" example:"conversation not found"`
}

// SuccessResponse acknowledges a rename or delete.
type SuccessResponse struct {
	Success bool `json:"success" example:"true"`
}

// fail aborts with the error envelope. 5xx responses are logged with the
// request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail is fail for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// success writes {"success": true} for mutations with nothing to return.
func success(c *gin.Context) {
	ok(c, http.StatusOK, SuccessResponse{Success: true})
}

// serviceError is how one service sentinel is presented. An empty message
// means the error's own text is shown.
type serviceError struct {
	target  error
	status  int
	code    string
	message string
}

var serviceErrors = []serviceError{
	{services.ErrConversationNotFound, http.StatusNotFound, ErrCodeNotFound, "conversation not found"},
	{services.ErrInvalidInput, http.StatusBadRequest, ErrCodeBadRequest, ""},
	{services.ErrUnauthorized, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required"},
	{services.ErrInvalidCredentials, http.StatusUnauthorized, ErrCodeInvalidCredentials, "invalid email or password"},
	{services.ErrDuplicateEmail, http.StatusBadRequest, ErrCodeConflict, "user already exists"},
	{services.ErrGenerationFailed, http.StatusInternalServerError, ErrCodeGenerationFailed, "failed to generate response"},
	{services.ErrUploadFailed, http.StatusInternalServerError, ErrCodeUploadFailed, "failed to upload file"},
}

// failService maps a service error onto the envelope. Unknown errors are
// logged and answered with a generic 500.
func failService(c *gin.Context, err error) {
	for _, se := range serviceErrors {
		if !errors.Is(err, se.target) {
			continue
		}
		msg := se.message
		if msg == "" {
			msg = err.Error()
		}
		if se.status >= http.StatusInternalServerError {
			middleware.LoggerFrom(c).Warn().Err(err).Str("code", se.code).Msg("upstream failure")
		}
		fail(c, se.status, se.code, msg)
		return
	}
	middleware.LoggerFrom(c).Error().Err(err).Msg("unhandled service error")
	fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
}
