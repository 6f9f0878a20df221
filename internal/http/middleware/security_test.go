package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func securedRouter(opt SecurityOptions) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SecurityHeaders(opt))
	r.GET("/api/v1/session/state", func(c *gin.Context) { c.String(http.StatusOK, "{}") })
	r.GET("/api/v1/transcript", func(c *gin.Context) { c.String(http.StatusOK, "{}") })
	r.GET("/swagger/*any", func(c *gin.Context) { c.String(http.StatusOK, "<html>") })
	return r
}

func TestSecurityHeaders_BaselineOnly(t *testing.T) {
	r := securedRouter(SecurityOptions{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/transcript", nil))

	h := w.Header()
	if h.Get("X-Content-Type-Options") != "nosniff" ||
		h.Get("X-Frame-Options") != "DENY" ||
		h.Get("Referrer-Policy") != "no-referrer" {
		t.Fatalf("baseline headers missing: %#v", h)
	}
	for _, k := range []string{"Permissions-Policy", "Content-Security-Policy", "Cache-Control", "Strict-Transport-Security"} {
		if h.Get(k) != "" {
			t.Fatalf("unexpected %s: %q", k, h.Get(k))
		}
	}
}

func TestSecurityHeaders_CacheControlPerRoute(t *testing.T) {
	r := securedRouter(SecurityOptions{
		NoStore:          true,
		RevalidateRoutes: []string{"/api/v1/session/state"},
	})

	cases := []struct {
		path, cache, pragma string
	}{
		{"/api/v1/transcript", "no-store", "no-cache"},
		{"/api/v1/session/state", "private, no-cache", ""},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if got := w.Header().Get("Cache-Control"); got != tc.cache {
			t.Fatalf("%s Cache-Control=%q want %q", tc.path, got, tc.cache)
		}
		if got := w.Header().Get("Pragma"); got != tc.pragma {
			t.Fatalf("%s Pragma=%q want %q", tc.path, got, tc.pragma)
		}
	}
}

func TestSecurityHeaders_CSPExemptsSwagger(t *testing.T) {
	r := securedRouter(SecurityOptions{CSP: DefaultCSP, CSPExemptPrefixes: []string{"/swagger/"}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/transcript", nil))
	if got := w.Header().Get("Content-Security-Policy"); got != DefaultCSP {
		t.Fatalf("api CSP=%q", got)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil))
	if got := w.Header().Get("Content-Security-Policy"); got != "" {
		t.Fatalf("swagger must not get the API CSP, got %q", got)
	}
}

func TestSecurityHeaders_PolicyAndHSTS(t *testing.T) {
	r := securedRouter(SecurityOptions{
		EnableHSTS:   true,
		HSTSMaxAge:   24 * time.Hour,
		EnablePolicy: true,
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/transcript", nil)
	req.TLS = &tls.ConnectionState{}
	r.ServeHTTP(w, req)

	h := w.Header()
	if h.Get("Permissions-Policy") == "" || h.Get("X-Permitted-Cross-Domain-Policies") != "none" {
		t.Fatalf("missing policy headers: %#v", h)
	}
	if want := "max-age=86400; includeSubDomains; preload"; h.Get("Strict-Transport-Security") != want {
		t.Fatalf("HSTS=%q want %q", h.Get("Strict-Transport-Security"), want)
	}

	// plain HTTP never gets HSTS
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/transcript", nil))
	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("HSTS on plain HTTP: %q", got)
	}
}

func TestSecurityHeaders_DefaultHSTSMaxAge(t *testing.T) {
	r := securedRouter(SecurityOptions{EnableHSTS: true})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/transcript", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	r.ServeHTTP(w, req)

	if want := "max-age=15552000; includeSubDomains; preload"; w.Header().Get("Strict-Transport-Security") != want {
		t.Fatalf("HSTS=%q want %q", w.Header().Get("Strict-Transport-Security"), want)
	}
}

func Test_isHTTPS(t *testing.T) {
	plain := httptest.NewRequest(http.MethodGet, "/", nil)
	direct := httptest.NewRequest(http.MethodGet, "/", nil)
	direct.TLS = &tls.ConnectionState{}
	proxied := httptest.NewRequest(http.MethodGet, "/", nil)
	proxied.Header.Set("X-Forwarded-Proto", "HTTPS")

	if isHTTPS(plain) || !isHTTPS(direct) || !isHTTPS(proxied) {
		t.Fatalf("isHTTPS: plain=%v direct=%v proxied=%v", isHTTPS(plain), isHTTPS(direct), isHTTPS(proxied))
	}
}
