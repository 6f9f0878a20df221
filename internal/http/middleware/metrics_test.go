package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountsByRouteAndFallsBackToRawPath(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())
	r.GET("/profiles/:id", func(c *gin.Context) { c.String(http.StatusOK, "alex") })
	r.DELETE("/profiles/:id/messages", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	baseGet := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/profiles/:id", "200"))
	baseDel := testutil.ToFloat64(httpReqs.WithLabelValues("DELETE", "/profiles/:id/messages", "204"))
	base404 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/does-not-exist", "404"))

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/profiles/p1", nil),
		httptest.NewRequest(http.MethodGet, "/profiles/p2", nil),
		httptest.NewRequest(http.MethodDelete, "/profiles/p1/messages", nil),
		httptest.NewRequest(http.MethodGet, "/does-not-exist", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/profiles/:id", "200")); got != baseGet+2 {
		t.Fatalf("route label should aggregate ids: got %v want %v", got, baseGet+2)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("DELETE", "/profiles/:id/messages", "204")); got != baseDel+1 {
		t.Fatalf("clear chat counter = %v; want %v", got, baseDel+1)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/does-not-exist", "404")); got != base404+1 {
		t.Fatalf("404 fallback counter = %v; want %v", got, base404+1)
	}
	if inFlight := testutil.ToFloat64(httpInflight); inFlight != 0 {
		t.Fatalf("httpInflight = %v; want 0", inFlight)
	}
}

func TestMetrics_SkipsPathsAndCountsRejections(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics("/health"))
	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.POST("/messages", func(c *gin.Context) { c.Status(http.StatusTooManyRequests) })

	baseHealth := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/health", "200"))
	baseRejected := testutil.ToFloat64(httpRejected.WithLabelValues("/messages"))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/messages", nil))

	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/health", "200")); got != baseHealth {
		t.Fatalf("skipped path was recorded: %v -> %v", baseHealth, got)
	}
	if got := testutil.ToFloat64(httpRejected.WithLabelValues("/messages")); got != baseRejected+1 {
		t.Fatalf("rate limited counter = %v; want %v", got, baseRejected+1)
	}
}
