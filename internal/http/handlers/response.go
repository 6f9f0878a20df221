// Package handlers provides HTTP handler implementations for the public API.
//
// Every error leaves through fail/failErr as an ErrorResponse with a stable
// code; success bodies are written with ok or noContent. Polled reads
// (profile list, session state) carry a weak ETag derived from the
// orchestrator version.
//
// Example error response:
//
//	HTTP/1.1 409 Conflict
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "conflict",
//	  "message": "a reply is already pending for this profile"
//	}
package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/persona-chat/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
//
// Fields:
//   - RequestID: correlation ID echoed from the X-Request-ID header, used to
//     match server logs with client-side errors.
//   - Code: a stable, machine-readable string (see errors.go constants).
//   - Message: a human-readable description, safe for display to users.
//
// This struct is referenced by the Swagger annotations of every handler.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"resource not found"`
}

// fail aborts the request with a structured error and logs server-side errors.
//
// It builds an ErrorResponse, writes it as JSON with the given HTTP status and
// calls gin.Context.AbortWithStatusJSON so no later handler runs.
//
// Server errors (>=500) are logged through the request-scoped logger from
// middleware, which already carries the request and user IDs. 4xx responses
// are left to the access log.
//
// Example:
//
//	fail(c, http.StatusNotFound, ErrCodeNotFound, "profile not found")
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("route", c.FullPath()).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail is the exported variant of fail, used by the router's NoRoute and
// NoMethod fallbacks and by middleware outside this package.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// notModified implements conditional GETs for polled reads.
//
// Behavior:
//   - Always sets a weak ETag of the form W/"<kind>:<version>".
//   - If any entry of If-None-Match equals that tag (or is "*"), writes
//     304 Not Modified and returns true; the caller must not write a body.
//   - Otherwise returns false and the caller answers normally.
//
// The version comes from the orchestrator and increases on every state
// change, so a stale tag never matches.
func notModified(c *gin.Context, kind string, version uint64) bool {
	etag := fmt.Sprintf(`W/"%s:%d"`, kind, version)
	c.Header("ETag", etag)
	for _, tag := range strings.Split(c.GetHeader("If-None-Match"), ",") {
		if t := strings.TrimSpace(tag); t == etag || t == "*" {
			c.Status(http.StatusNotModified)
			return true
		}
	}
	return false
}
