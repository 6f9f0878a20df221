// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the structured access logger. Bodies
// are never logged (messages and avatars stay out). Query strings and header
// values are scrubbed of session tokens, UUIDs, e-mail addresses and phone
// numbers; credential headers are masked entirely.
//
//	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
//	    MaskHeaders: []string{"X-Api-Key"},
//	    QuietRoutes: []string{"GET /api/v1/session/state"},
//	}))
package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// maxQueryLogLength caps the logged (redacted) query string, in bytes.
const maxQueryLogLength = 2048

// Order matters: tokens, then UUIDs, then the looser e-mail and phone
// patterns, which would otherwise eat parts of the former.
var (
	tokenRE = regexp.MustCompile(`(?i)\b[0-9a-f]{64}\b`)
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// RedactOptions configures RedactingLogger.
type RedactOptions struct {
	// MaskHeaders are replaced with "[REDACTED]" in addition to
	// Authorization, Cookie, Set-Cookie and X-Session-Token.
	MaskHeaders []string
	// QuietRoutes ("METHOD /full/path") log successful requests at debug
	// level. Polling clients hit them every few seconds.
	QuietRoutes []string
}

type redactor struct {
	masked map[string]struct{}
}

func newRedactor(extra []string) *redactor {
	r := &redactor{masked: map[string]struct{}{
		"authorization":                     {},
		"cookie":                            {},
		"set-cookie":                        {},
		strings.ToLower(HeaderSessionToken): {},
	}}
	for _, h := range extra {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			r.masked[h] = struct{}{}
		}
	}
	return r
}

func (r *redactor) scrub(s string) string {
	if s == "" {
		return s
	}
	s = tokenRE.ReplaceAllString(s, "[REDACTED:token]")
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

func (r *redactor) headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := r.masked[strings.ToLower(k)]; ok {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = r.scrub(strings.Join(vv, ", "))
	}
	return out
}

// RedactingLogger writes a structured, privacy-safe access log for each
// request.
//
// Features:
//   - Records request_id, method, route (raw path when unmatched), user_id,
//     the scrubbed query string, status, bytes written, latency and the
//     request headers after masking.
//   - Installs a request-scoped zerolog.Logger (request_id, method, path)
//     under the "logger" Gin context key for handlers to use via LoggerFrom.
//   - Chooses log level by outcome:
//   - error() for 5xx,
//   - warn()  for 4xx,
//   - debug() for successful QuietRoutes,
//   - info()  otherwise.
//
// Notes:
//   - Request and response bodies are never logged.
//   - The request ID is read from the response header first, then from the
//     request header, so it is present even when RequestID() did not run.
//
// Place this after RequestID() and before Recovery().
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	red := newRedactor(opts.MaskHeaders)
	quiet := make(map[string]struct{}, len(opts.QuietRoutes))
	for _, r := range opts.QuietRoutes {
		quiet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		query := truncate(red.scrub(c.Request.URL.RawQuery), maxQueryLogLength)
		headers := red.headers(c.Request.Header)

		scoped := log.With().
			Str("request_id", RequestIDFrom(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Logger()
		c.Set(loggerKey, &scoped)

		c.Next()

		status := c.Writer.Status()
		reqID := c.Writer.Header().Get(requestIDHeader)
		if reqID == "" {
			reqID = c.GetHeader(requestIDHeader)
		}

		var ev *zerolog.Event
		switch _, isQuiet := quiet[c.Request.Method+" "+path]; {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		case isQuiet:
			ev = log.Debug()
		default:
			ev = log.Info()
		}

		ev.
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("user_id", UserIDFrom(c)).
			Str("query", query).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", headers).
			Msg("http_request")
	}
}

// truncate cuts s to max bytes plus an ellipsis; max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
