package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func Test_fail_5xx_LogsWithRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-502")
		c.Set("logger", &logger)
		c.Next()
	})
	r.POST("/messages", func(c *gin.Context) {
		fail(c, http.StatusBadGateway, ErrCodeCompletionFailed, "upstream said no")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/messages", nil))

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status=%d", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.RequestID != "rid-502" || resp.Code != ErrCodeCompletionFailed || resp.Message != "upstream said no" {
		t.Fatalf("unexpected body: %+v", resp)
	}
	logged := buf.String()
	if !strings.Contains(logged, `"level":"error"`) || !strings.Contains(logged, `"route":"/messages"`) {
		t.Fatalf("expected error log with route, got: %s", logged)
	}
}

func Test_Fail_4xx_NotLogged(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	r.Use(func(c *gin.Context) {
		c.Set("logger", &logger)
		c.Next()
	})
	r.GET("/profiles/:id", func(c *gin.Context) {
		Fail(c, http.StatusNotFound, ErrCodeNotFound, "profile not found")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/profiles/x", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
	if buf.Len() != 0 {
		t.Fatalf("4xx should not be logged: %s", buf.String())
	}
}

func Test_notModified(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/state", func(c *gin.Context) {
		if notModified(c, "state", 7) {
			return
		}
		ok(c, http.StatusOK, gin.H{"version": 7})
	})

	cases := []struct {
		name        string
		ifNoneMatch string
		want        int
	}{
		{"no header", "", http.StatusOK},
		{"stale", `W/"state:6"`, http.StatusOK},
		{"other kind", `W/"profiles:7"`, http.StatusOK},
		{"match", `W/"state:7"`, http.StatusNotModified},
		{"match in list", `W/"state:5", W/"state:7"`, http.StatusNotModified},
		{"wildcard", "*", http.StatusNotModified},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/state", nil)
			if tc.ifNoneMatch != "" {
				req.Header.Set("If-None-Match", tc.ifNoneMatch)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("status=%d want %d", w.Code, tc.want)
			}
			if w.Header().Get("ETag") != `W/"state:7"` {
				t.Fatalf("etag=%q", w.Header().Get("ETag"))
			}
			if tc.want == http.StatusNotModified && w.Body.Len() != 0 {
				t.Fatalf("304 must have no body")
			}
		})
	}
}

func Test_noContent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.DELETE("/settings/api-key", func(c *gin.Context) { noContent(c) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/settings/api-key", nil))
	if w.Code != http.StatusNoContent || w.Body.Len() != 0 {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
}
