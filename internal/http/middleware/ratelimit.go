// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the in-process token-bucket limiter. Each identity (user ID
// once a session is resolved, client IP before that) gets its own bucket from
// golang.org/x/time/rate; idle buckets are swept lazily. Polling routes are
// flagged by MarkRateBypass and never consume tokens.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	ctxKeyRateBypass = "rateBypass"

	defaultBucketIdle = 10 * time.Minute
	// Retry-After sent when the bucket can never refill (rps == 0).
	fallbackRetryAfter = 60
)

// KeyFunc maps a request to the identity that owns a bucket.
type KeyFunc func(*gin.Context) string

// KeyByUserOrIP keys by "user:<id>" when RequireSession ran, else "ip:<addr>".
func KeyByUserOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if uid := UserIDFrom(c); uid != "" {
			return "user:" + uid
		}
		return "ip:" + c.ClientIP()
	}
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter is a per-key token-bucket limiter, safe for concurrent use.
type RateLimiter struct {
	limit rate.Limit
	burst int
	key   KeyFunc
	idle  time.Duration
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// NewRateLimiter builds a limiter refilling rps tokens per second up to burst
// (coerced to at least 1). A nil key defaults to KeyByUserOrIP.
func NewRateLimiter(rps float64, burst int, key KeyFunc) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	if key == nil {
		key = KeyByUserOrIP()
	}
	return &RateLimiter{
		limit:     rate.Limit(rps),
		burst:     burst,
		key:       key,
		idle:      defaultBucketIdle,
		now:       time.Now,
		buckets:   make(map[string]*bucket),
		lastSweep: time.Now(),
	}
}

// limiterFor returns the bucket for key. Buckets idle for longer than
// rl.idle are dropped, at most once per idle period, before the lookup.
func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= rl.idle {
		for k, b := range rl.buckets {
			if now.Sub(b.seen) >= rl.idle {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.seen = now
	return b.lim
}

// size reports the number of live buckets.
func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// MarkRateBypass flags requests for which match returns true; Handler lets
// them through without taking a token.
func MarkRateBypass(match func(*gin.Context) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if match != nil && match(c) {
			c.Set(ctxKeyRateBypass, true)
		}
		c.Next()
	}
}

// BypassPaths matches "METHOD /route/pattern" entries against the request's
// method and Gin route, e.g. BypassPaths("GET /api/v1/session/state").
func BypassPaths(routes ...string) func(*gin.Context) bool {
	set := make(map[string]struct{}, len(routes))
	for _, r := range routes {
		set[r] = struct{}{}
	}
	return func(c *gin.Context) bool {
		_, ok := set[c.Request.Method+" "+c.FullPath()]
		return ok
	}
}

// IsRateBypass reports whether MarkRateBypass flagged this request.
func IsRateBypass(c *gin.Context) bool {
	v, _ := c.Get(ctxKeyRateBypass)
	b, _ := v.(bool)
	return b
}

// Handler enforces the limit. Rejected requests get 429 with the standard
// error envelope and a Retry-After (whole seconds) derived from the bucket's
// refill time.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		key := rl.key(c)
		res := rl.limiterFor(key).ReserveN(rl.now(), 1)
		wait := fallbackRetryAfter
		if res.OK() {
			delay := res.DelayFrom(rl.now())
			if delay == 0 {
				c.Next()
				return
			}
			res.Cancel()
			wait = int(math.Ceil(delay.Seconds()))
		}

		LoggerFrom(c).Debug().Str("bucket", key).Int("retry_after", wait).Msg("rate limited")
		c.Header("Retry-After", strconv.Itoa(wait))
		abortJSON(c, http.StatusTooManyRequests, "too_many_requests", "rate limit exceeded")
	}
}
