// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds request correlation and panic recovery:
//
//   - RequestID() gives every request a correlation ID, propagated via
//     X-Request-ID and stored in the Gin context. A well-formed incoming ID
//     is reused.
//   - Recovery() converts panics into the JSON 500 envelope while keeping
//     the correlation ID and logging the stack trace.
//   - LoggerFrom() returns the request-scoped zerolog.Logger attached by
//     RedactingLogger and enriched with user_id by RequireSession, so
//     handlers and services can log with request context
//     (e.g., LoggerFrom(c).Info().Str("profile_id", id).Msg("…")).
//
// Design notes:
//   - Compose in this order so panics and errors carry the correlation ID:
//     1) RequestID()
//     2) RedactingLogger(...)
//     3) Recovery()
//   - The request-scoped logger lives under the "logger" Gin context key.
package middleware

import (
	"net/http"
	"regexp"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"
)

// Client IDs end up in logs and response headers; anything else is replaced.
var requestIDRE = regexp.MustCompile(`^[A-Za-z0-9._:\-]{1,128}$`)

// RequestID attaches (or propagates) a correlation identifier per request.
//
// Behavior:
//   - An incoming X-Request-ID (header lookup is case-insensitive) is reused
//     when it is 1 to 128 characters of [A-Za-z0-9._:-]. Anything else,
//     including an empty header, is replaced by a new UUIDv4.
//   - The ID is written back to the response header (X-Request-ID) and stored
//     in the Gin context under the "requestID" key.
//
// Notes:
//   - Client IDs end up in log lines and response headers, hence the
//     character allow-list.
//
// Place this first in the chain so later middleware and handlers can rely on
// the ID for logging and error responses.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if !requestIDRE.MatchString(rid) {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// RequestIDFrom returns the ID set by RequestID, or "" when RequestID did not
// run for this request.
func RequestIDFrom(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// Recovery intercepts panics, logs a stack trace, and returns a JSON 500 error.
//
// Behavior:
//   - Logs the panic value and stack trace with the request and user IDs
//     through the request-scoped logger.
//   - If no response has been written, emits the standard error envelope:
//     { "request_id": "...", "code": "internal_error", "message": "internal server error" }
//   - If the handler already started writing, only the status is forced to
//     500; the partial body is left alone.
//   - Ensures the X-Request-ID header is present on the JSON response.
//
// Place this after RedactingLogger() so the panic is captured with
// structured context.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid := RequestIDFrom(c)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", rid).
				Str("user_id", UserIDFrom(c)).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped zerolog.Logger.
//
// If no logger was attached by RedactingLogger(), a fallback derived from the
// global logger is returned (without request-scoped fields). Callers can use
// the result without nil checks.
//
// Usage:
//
//	lg := middleware.LoggerFrom(c)
//	lg.Warn().Str("profile_id", id).Msg("reply discarded")
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// withLoggerField replaces the scoped logger with one carrying key=value.
func withLoggerField(c *gin.Context, key, value string) {
	l := LoggerFrom(c).With().Str(key, value).Logger()
	c.Set(loggerKey, &l)
}
