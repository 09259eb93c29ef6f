// Package handlers provides the HTTP handlers of the webhook gateway and the
// admin surface.
//
// This file defines the response helpers every endpoint shares. Errors always
// leave as an ErrorResponse with a stable code (see errors.go). Server-side
// causes are logged through the request-scoped logger and attached to the Gin
// context, but never echoed to the client: storage errors can carry SQL
// fragments and call data.
//
// Example error response:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "message": "call not found"
//	}
//
// Example success response:
//
//	HTTP/1.1 200 OK
//	{ "status": "stored", "id": "call_8f2c", "call_id": "call_8f2c" }
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/callvault/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"validation_failed"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"call_id: is required"`
}

// fail aborts the request with a structured error. 5xx responses are logged
// with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, resp)
}

// failErr is fail for an internal cause: err goes to the logs (redacted by
// the access logger), msg goes to the client.
func failErr(c *gin.Context, status int, code, msg string, err error) {
	if err != nil {
		_ = c.Error(err)
	}
	fail(c, status, code, msg)
}

// Fail is the exported variant of fail(), used by the router for NoRoute and
// NoMethod.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
