package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/rid", func(c *gin.Context) {
		c.String(http.StatusOK, RequestIDFrom(c))
	})

	cases := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"generated when absent", "", false},
		{"propagated", "Z-REQ-123", true},
		{"propagated with dots and colons", "edge:1.2_x", true},
		{"replaced when it contains spaces", "bad id", false},
		{"replaced when it could forge log lines", "x\"}{\"level\":\"error", false},
		{"replaced when too long", strings.Repeat("a", 129), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/rid", nil)
			if tc.incoming != "" {
				req.Header.Set(requestIDHeader, tc.incoming)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			got := w.Header().Get(requestIDHeader)
			if got == "" || got != w.Body.String() {
				t.Fatalf("header %q and context %q must agree and be set", got, w.Body.String())
			}
			if tc.keep && got != tc.incoming {
				t.Fatalf("expected %q to be kept, got %q", tc.incoming, got)
			}
			if !tc.keep && got == tc.incoming {
				t.Fatalf("expected %q to be replaced", tc.incoming)
			}
		})
	}
}

func TestRecovery_PanicsToJSON500AndLogs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.Use(RedactingLogger(RedactOptions{}))
	r.Use(Recovery())
	r.POST("/messages", func(c *gin.Context) {
		c.Set(ctxKeyUserID, "u-42")
		panic("kaboom")
	})

	req := httptest.NewRequest(http.MethodPost, "/messages", nil)
	req.Header.Set(requestIDHeader, "rid-panic")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 from Recovery, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json body: %v", err)
	}
	if body["code"] != "internal_error" || body["request_id"] != "rid-panic" {
		t.Fatalf("unexpected body: %v", body)
	}
	out := buf.String()
	for _, want := range []string{`"panic recovered"`, `"user_id":"u-42"`, `"request_id":"rid-panic"`, `"stack"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("panic log missing %s:\n%s", want, out)
		}
	}
}

func TestRecovery_PanicAfterWrite_NoJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.Use(Recovery())
	r.GET("/transcript", func(c *gin.Context) {
		c.String(http.StatusOK, "partial-body")
		panic("late kaboom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/transcript", nil))

	if strings.Contains(w.Body.String(), "internal_error") {
		t.Fatalf("no JSON envelope expected after a write, got %q", w.Body.String())
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Fatalf("expected panic log, got:\n%s", buf.String())
	}
}

func TestLoggerFrom_FallbackAndEnrichment(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.GET("/fallback", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("plain")
		c.Status(http.StatusOK)
	})
	r.GET("/enriched", func(c *gin.Context) {
		withLoggerField(c, "profile_id", "p-1")
		LoggerFrom(c).Info().Msg("scoped")
		c.Status(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fallback", nil))
	if out := buf.String(); !strings.Contains(out, `"message":"plain"`) || strings.Contains(out, `"request_id"`) {
		t.Fatalf("fallback logger: %s", out)
	}

	buf.Reset()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/enriched", nil))
	if out := buf.String(); !strings.Contains(out, `"profile_id":"p-1"`) {
		t.Fatalf("expected enriched field: %s", out)
	}
}
