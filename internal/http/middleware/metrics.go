// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file exposes Prometheus instrumentation for HTTP traffic. The Metrics()
// middleware measures request counts, latencies, in-flight concurrency,
// response sizes and rate-limit rejections, with bounded label cardinality:
//
//   - method:   HTTP method verb (GET/POST/…)
//   - path:     the registered Gin route (e.g. /api/v1/profiles/:id/messages);
//     falls back to the raw URL path when no route matched
//   - status:   numeric status code as a string (e.g. "200", "429")
//
// Polling clients and profile IDs therefore never create new series. All
// collectors are safe for concurrent use.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds.",
			// POST /messages waits on the completion endpoint.
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_response_size_bytes",
			Help: "Size of HTTP responses in bytes.",
			Buckets: []float64{
				200, 1 << 10, 5 << 10, 25 << 10, 100 << 10,
				500 << 10, 1 << 20, 5 << 20, // avatars travel as data URLs
			},
		},
		[]string{"method", "path"},
	)

	httpRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Requests rejected with 429 by the rate limiter.",
		},
		[]string{"path"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize, httpRejected)
}

// Metrics returns a Gin middleware that instruments requests with Prometheus.
//
// Usage:
//
//	r := gin.New()
//	r.Use(middleware.Metrics("/metrics", "/health"))
//	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
//
// Semantics:
//   - Increments http_requests_total(method, path, status) per request
//   - Observes http_request_duration_seconds(method, path) on completion
//   - Tracks the http_requests_inflight gauge during handler execution
//   - Observes http_response_size_bytes(method, path) with bytes written
//   - Increments http_requests_rate_limited_total(path) for 429 responses
//
// Notes:
//   - Requests whose raw URL path is one of skip (typically /metrics and
//     /health) are not recorded at all.
//   - The "path" label is c.FullPath(); if no route matched (e.g. 404) it
//     falls back to c.Request.URL.Path.
//   - Response size is only observed once something was written.
func Metrics(skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(c *gin.Context) {
		if _, ok := skipped[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method
		code := c.Writer.Status()

		httpReqs.WithLabelValues(method, path, strconv.Itoa(code)).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(size))
		}
		if code == http.StatusTooManyRequests {
			httpRejected.WithLabelValues(path).Inc()
		}
	}
}
