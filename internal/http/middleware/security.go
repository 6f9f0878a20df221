// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SecurityHeaders, a hardening middleware that attaches a
// conservative set of HTTP security headers suitable for a JSON API running
// behind a reverse proxy.
//
// Design notes:
//   - Responses carry transcripts and API key hints, so they are marked
//     no-store. The polled ETag routes are the exception and are marked for
//     revalidation instead.
//   - HSTS is opt-in and only applied when the request is actually HTTPS.
//   - A locked-down CSP is sent everywhere except the Swagger UI prefixes.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// DefaultCSP locks a JSON API down completely.
const DefaultCSP = "default-src 'none'; frame-ancestors 'none'"

// SecurityOptions configures HTTP security headers emitted by SecurityHeaders.
//
// EnableHSTS controls whether Strict-Transport-Security is sent for HTTPS
// requests (never for plain HTTP). Only enable it when traffic is HTTPS
// end-to-end, including between proxy and app.
//
// NoStore adds Cache-Control: no-store (plus legacy Pragma/Expires) to every
// response whose route is not listed in RevalidateRoutes.
//
// EnablePolicy sends Permissions-Policy and X-Permitted-Cross-Domain-Policies.
// They only affect browsers and are harmless for other clients.
type SecurityOptions struct {
	EnableHSTS bool          // set true only when traffic is HTTPS end-to-end
	HSTSMaxAge time.Duration // defaults to 180 days
	NoStore    bool          // Cache-Control: no-store on every response...
	// ...except these routes (c.FullPath()), which get "private, no-cache"
	// so clients can revalidate with If-None-Match.
	RevalidateRoutes []string
	EnablePolicy     bool // Permissions-Policy and X-Permitted-Cross-Domain-Policies
	// CSP is sent unless the path starts with one of CSPExemptPrefixes
	// (the Swagger UI needs its scripts).
	CSP               string
	CSPExemptPrefixes []string
}

// SecurityHeaders returns a Gin middleware that adds hardening headers to
// every response.
//
// Behavior:
//   - Always sets:
//     X-Content-Type-Options: nosniff
//     X-Frame-Options: DENY
//     Referrer-Policy: no-referrer
//   - Optionally sets (when EnablePolicy):
//     Permissions-Policy: geolocation=(), microphone=(), camera=(), payment=()
//     X-Permitted-Cross-Domain-Policies: none
//   - Content-Security-Policy: opt.CSP, unless the path starts with one of
//     CSPExemptPrefixes.
//   - Cache-Control (when NoStore): "private, no-cache" for RevalidateRoutes,
//     "no-store" with Pragma/Expires for everything else.
//   - Strict-Transport-Security (when EnableHSTS) for requests that arrived
//     over TLS or carry X-Forwarded-Proto: https. Max age defaults to 180
//     days.
//
// Headers are set before c.Next(), so they are present even when a later
// handler aborts.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int(opt.HSTSMaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int((180 * 24 * time.Hour).Seconds())
	}
	hsts := "max-age=" + strconv.Itoa(maxAge) + "; includeSubDomains; preload"

	revalidate := make(map[string]struct{}, len(opt.RevalidateRoutes))
	for _, r := range opt.RevalidateRoutes {
		revalidate[r] = struct{}{}
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}

		if opt.CSP != "" && !hasAnyPrefix(c.Request.URL.Path, opt.CSPExemptPrefixes) {
			h.Set("Content-Security-Policy", opt.CSP)
		}

		if opt.NoStore {
			if _, ok := revalidate[c.FullPath()]; ok {
				h.Set("Cache-Control", "private, no-cache")
			} else {
				h.Set("Cache-Control", "no-store")
				h.Set("Pragma", "no-cache")
				h.Set("Expires", "0")
			}
		}

		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}

		c.Next()
	}
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// isHTTPS reports whether the request used TLS directly or through a proxy
// that set X-Forwarded-Proto: https.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
