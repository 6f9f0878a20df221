// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements session authentication. A client presents its login
// token either as "Authorization: Bearer <token>" or in the X-Session-Token
// header; the middleware resolves it through a caller-supplied function and
// stores the user ID under the "userID" context key (read by the request
// logger and the rate limiter) together with the resolved session value.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderSessionToken is the alternative header carrying the session token.
const HeaderSessionToken = "X-Session-Token"

const (
	ctxKeyUserID  = "userID"
	ctxKeySession = "session"
)

// SessionResolver maps a token to the owning user ID and an opaque session
// value. It returns ok=false for unknown or expired tokens.
type SessionResolver func(ctx context.Context, token string) (userID string, session any, ok bool, err error)

// SessionToken extracts the session token from the request, preferring the
// Authorization bearer credential.
func SessionToken(c *gin.Context) string {
	if h := strings.TrimSpace(c.GetHeader("Authorization")); h != "" {
		const prefix = "bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
	}
	return strings.TrimSpace(c.GetHeader(HeaderSessionToken))
}

// RequireSession rejects requests without a live session with 401 and the
// standard error envelope. Resolver failures yield 500. On success the
// request-scoped logger gains a user_id field.
func RequireSession(resolve SessionResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := SessionToken(c)
		if token == "" {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "missing session token")
			return
		}
		uid, sess, ok, err := resolve(c.Request.Context(), token)
		if err != nil {
			lg := LoggerFrom(c)
			lg.Error().Err(err).Msg("session lookup failed")
			abortJSON(c, http.StatusInternalServerError, "internal_error", "session lookup failed")
			return
		}
		if !ok {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "invalid or expired session")
			return
		}
		c.Set(ctxKeyUserID, uid)
		c.Set(ctxKeySession, sess)
		withLoggerField(c, "user_id", uid)
		c.Next()
	}
}

// SessionFrom returns the session value stored by RequireSession.
func SessionFrom(c *gin.Context) (any, bool) {
	return c.Get(ctxKeySession)
}

// UserIDFrom returns the authenticated user ID, or "".
func UserIDFrom(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyUserID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func abortJSON(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       code,
		"message":    msg,
	})
}
