// Package httpapi wires the HTTP transport (Gin) to the session services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, CORS, security headers, session authentication and rate
// limiting.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/persona-chat/internal/config"
	"github.com/tbourn/persona-chat/internal/http/handlers"
	"github.com/tbourn/persona-chat/internal/http/middleware"
	"github.com/tbourn/persona-chat/internal/services"
)

// maxBodyBytes caps request bodies. Profile avatars may be data URLs of up
// to services.MaxImageURLBytes, which base64 and JSON escaping inflate.
const maxBodyBytes = 4 << 20

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine: observability (tracing, metrics), compression, CORS and security
// headers, health/metrics/swagger endpoints, and the versioned API under
// cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII and token scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. gzip, CORS and security headers
//
// Within the API, /auth/register and /auth/login are rate limited per client
// IP; everything else requires a session and is limited per user, except the
// polling endpoints.
func RegisterRoutes(r *gin.Engine, accounts *services.Accounts, registry *services.SessionRegistry, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	base := strings.TrimRight(cfg.APIBasePath, "/")
	route := func(method, path string) string { return method + " " + base + path }
	polling := []string{
		route(http.MethodGet, "/session/state"),
		route(http.MethodGet, "/notifications"),
	}

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
		QuietRoutes: polling,
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit
	r.Use(limitBody(maxBodyBytes))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics("/metrics", "/health"))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Compression, CORS posture and security headers
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:        cfg.Security.EnableHSTS,
		HSTSMaxAge:        cfg.Security.HSTSMaxAge,
		NoStore:           true,
		RevalidateRoutes:  []string{base + "/profiles", base + "/session/state"},
		EnablePolicy:      true,
		CSP:               middleware.DefaultCSP,
		CSPExemptPrefixes: []string{"/swagger/"},
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(accounts, registry)
	limiter := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	api := groupWithPrefix(r, cfg.APIBasePath)

	// Public: login surface, limited per IP
	auth := api.Group("/auth", limiter.Handler())
	{
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)
	}

	// Session-scoped intents, limited per user
	authed := api.Group("",
		middleware.RequireSession(ResolveSession(accounts, registry)),
		middleware.MarkRateBypass(middleware.BypassPaths(polling...)),
		limiter.Handler(),
	)
	{
		authed.POST("/auth/logout", h.Logout)
		authed.GET("/auth/me", h.Me)

		// Profiles
		authed.GET("/profiles", h.ListProfiles)
		authed.POST("/profiles", h.CreateProfile)
		authed.GET("/profiles/:id", h.GetProfile)
		authed.PUT("/profiles/:id", h.UpdateProfile)
		authed.DELETE("/profiles/:id", h.DeleteProfile)
		authed.DELETE("/profiles/:id/messages", h.ClearChat)

		// Session state
		authed.PUT("/session/active", h.SetActiveProfile)
		authed.GET("/session/state", h.GetState)
		authed.GET("/notifications", h.ListNotifications)

		// Conversation
		authed.POST("/messages", h.PostMessage)
		authed.GET("/transcript", h.GetTranscript)

		// Settings
		authed.GET("/settings/api-key", h.GetAPIKey)
		authed.PUT("/settings/api-key", h.PutAPIKey)
		authed.DELETE("/settings/api-key", h.DeleteAPIKey)
	}
}

// ResolveSession maps a token to its user and live session, opening the
// session's orchestrator on first use.
func ResolveSession(accounts *services.Accounts, registry *services.SessionRegistry) middleware.SessionResolver {
	return func(ctx context.Context, token string) (string, any, bool, error) {
		u, sess, err := accounts.Resolve(ctx, token)
		if errors.Is(err, services.ErrSessionNotFound) {
			return "", nil, false, nil
		}
		if err != nil {
			return "", nil, false, err
		}
		s, err := registry.Acquire(ctx, token, u, sess.ExpiresAt)
		if err != nil {
			return "", nil, false, err
		}
		return u.ID, s, true, nil
	}
}

// corsMiddleware returns the CORS stack. With no allowlist every origin is
// accepted (without credentials); otherwise the request Origin is echoed
// when it is allowed.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	headers := []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderSessionToken, "If-None-Match"}
	expose := []string{"X-Request-ID", "Content-Length", "ETag"}
	methods := []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}

	if len(origins) == 0 {
		return []gin.HandlerFunc{
			// Force ACAO: * even for requests without an Origin header.
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins:  true,
				AllowMethods:     methods,
				AllowHeaders:     headers,
				ExposeHeaders:    expose,
				AllowCredentials: false, // must remain false with AllowAllOrigins
				MaxAge:           12 * time.Hour,
			}),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     methods,
			AllowHeaders:     headers,
			ExposeHeaders:    expose,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}),
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
