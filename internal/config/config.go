// Package config loads the server configuration from environment variables.
//
// Every setting has a default; a variable that is set but malformed (say
// RATE_RPS=fast) is a load error rather than a silent fallback. Load returns
// all problems at once, joined.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig lists the browser origins allowed to call the API. Empty means
// any origin without credentials.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig controls Strict-Transport-Security.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig controls trace export over OTLP/gRPC.
type OTELConfig struct {
	Enabled     bool
	Endpoint    string // host:port of the collector
	Insecure    bool
	ServiceName string
	SampleRatio float64 // 0..1
}

// CompletionConfig points at an OpenAI-compatible chat-completion endpoint.
// APIKey is the server-wide fallback; users may store their own key.
type CompletionConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Referer     string // sent as HTTP-Referer
	Title       string // sent as X-Title
	Timeout     time.Duration
}

type Config struct {
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration // must cover a completion round trip
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string

	LogLevel       string
	LogPretty      bool
	SwaggerEnabled bool
	APIBasePath    string

	DBPath string

	Completion CompletionConfig

	NotificationBuffer int           // per-session notification queue
	SessionTTL         time.Duration // login token lifetime

	RateRPS   float64
	RateBurst int

	CORS     CORSConfig
	Security SecurityConfig
	OTEL     OTELConfig
}

// MustLoad is Load for main: it panics on error.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the environment, applies defaults and validates the result.
//
//	Variable                      Default
//	PORT                          8080
//	READ_TIMEOUT                  15s
//	READ_HEADER_TIMEOUT           10s
//	WRITE_TIMEOUT                 90s
//	IDLE_TIMEOUT                  60s
//	MAX_HEADER_BYTES              1048576
//	GIN_MODE                      release (debug|release|test)
//	LOG_LEVEL                     info
//	LOG_PRETTY                    false
//	SWAGGER_ENABLED               false
//	API_BASE_PATH                 /api/v1
//	DB_PATH                       app.db
//	COMPLETION_BASE_URL           https://openrouter.ai/api/v1
//	COMPLETION_API_KEY            (none)
//	COMPLETION_MODEL              deepseek/deepseek-chat
//	COMPLETION_TEMPERATURE        0.7
//	COMPLETION_MAX_TOKENS         1000
//	COMPLETION_REFERER            (none)
//	COMPLETION_TITLE              Persona Chat
//	COMPLETION_TIMEOUT            60s
//	NOTIFICATION_BUFFER           50
//	SESSION_TTL                   720h
//	RATE_RPS                      5
//	RATE_BURST                    10
//	CORS_ALLOWED_ORIGINS          (any)
//	ENABLE_HSTS                   false
//	HSTS_MAX_AGE                  4320h
//	OTEL_ENABLED                  false
//	OTEL_EXPORTER_OTLP_ENDPOINT   localhost:4317
//	OTEL_EXPORTER_OTLP_INSECURE   true
//	OTEL_SERVICE_NAME             persona-chat
//	OTEL_TRACES_SAMPLER_ARG       1.0
func Load() (Config, error) {
	e := &env{lookup: os.LookupEnv}

	cfg := Config{
		Port:              e.str("PORT", "8080"),
		ReadTimeout:       e.dur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: e.dur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      e.dur("WRITE_TIMEOUT", 90*time.Second),
		IdleTimeout:       e.dur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    e.integer("MAX_HEADER_BYTES", 1<<20),
		GinMode:           ginMode(e.str("GIN_MODE", "release")),

		LogLevel:       logLevel(e.str("LOG_LEVEL", "info")),
		LogPretty:      e.flag("LOG_PRETTY", false),
		SwaggerEnabled: e.flag("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(e.str("API_BASE_PATH", "/api/v1")),

		DBPath: e.str("DB_PATH", "app.db"),

		Completion: CompletionConfig{
			BaseURL:     strings.TrimRight(e.str("COMPLETION_BASE_URL", "https://openrouter.ai/api/v1"), "/"),
			APIKey:      e.str("COMPLETION_API_KEY", ""),
			Model:       e.str("COMPLETION_MODEL", "deepseek/deepseek-chat"),
			Temperature: e.float("COMPLETION_TEMPERATURE", 0.7),
			MaxTokens:   e.integer("COMPLETION_MAX_TOKENS", 1000),
			Referer:     e.str("COMPLETION_REFERER", ""),
			Title:       e.str("COMPLETION_TITLE", "Persona Chat"),
			Timeout:     e.dur("COMPLETION_TIMEOUT", 60*time.Second),
		},

		NotificationBuffer: e.integer("NOTIFICATION_BUFFER", 50),
		SessionTTL:         e.dur("SESSION_TTL", 30*24*time.Hour),

		RateRPS:   e.float("RATE_RPS", 5),
		RateBurst: e.integer("RATE_BURST", 10),

		CORS: CORSConfig{AllowedOrigins: splitCSV(e.str("CORS_ALLOWED_ORIGINS", ""))},
		Security: SecurityConfig{
			EnableHSTS: e.flag("ENABLE_HSTS", false),
			HSTSMaxAge: e.dur("HSTS_MAX_AGE", 180*24*time.Hour),
		},
		OTEL: OTELConfig{
			Enabled:     e.flag("OTEL_ENABLED", false),
			Endpoint:    e.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    e.flag("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: e.str("OTEL_SERVICE_NAME", "persona-chat"),
			SampleRatio: e.float("OTEL_TRACES_SAMPLER_ARG", 1),
		},
	}

	if err := errors.Join(append(e.errs, cfg.validate()...)...); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (cfg Config) validate() []error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q: want debug, info, warn, error, fatal or panic", cfg.LogLevel))
	}
	check(cfg.Port != "", "PORT must not be empty")
	check(cfg.ReadTimeout > 0 && cfg.ReadHeaderTimeout > 0 && cfg.WriteTimeout > 0 && cfg.IdleTimeout > 0,
		"server timeouts must be positive")
	check(cfg.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")
	check(cfg.DBPath != "", "DB_PATH must not be empty")

	u, err := url.Parse(cfg.Completion.BaseURL)
	check(err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "",
		"COMPLETION_BASE_URL %q must be an absolute http(s) URL", cfg.Completion.BaseURL)
	check(cfg.Completion.Model != "", "COMPLETION_MODEL must not be empty")
	check(cfg.Completion.Temperature >= 0 && cfg.Completion.Temperature <= 2, "COMPLETION_TEMPERATURE must be within [0,2]")
	check(cfg.Completion.MaxTokens > 0, "COMPLETION_MAX_TOKENS must be > 0")
	check(cfg.Completion.Timeout > 0, "COMPLETION_TIMEOUT must be > 0")
	check(cfg.Completion.Timeout <= cfg.WriteTimeout,
		"COMPLETION_TIMEOUT (%s) must not exceed WRITE_TIMEOUT (%s)", cfg.Completion.Timeout, cfg.WriteTimeout)

	check(cfg.NotificationBuffer >= 1, "NOTIFICATION_BUFFER must be >= 1")
	check(cfg.SessionTTL > 0, "SESSION_TTL must be > 0")
	check(cfg.RateRPS >= 0, "RATE_RPS must be >= 0")
	check(cfg.RateBurst >= 1, "RATE_BURST must be >= 1")
	check(cfg.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")
	check(cfg.OTEL.SampleRatio >= 0 && cfg.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be within [0,1]")
	if cfg.OTEL.Enabled {
		check(cfg.OTEL.Endpoint != "", "OTEL_EXPORTER_OTLP_ENDPOINT must be set when OTEL_ENABLED")
	}
	return errs
}

// env reads typed variables, remembering every malformed one. Unset and
// empty variables yield the default.
type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *env) fail(key, val, kind string) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q is not a valid %s", key, val, kind))
}

func (e *env) str(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

func (e *env) integer(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, "integer")
		return def
	}
	return n
}

func (e *env) float(key string, def float64) float64 {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, "number")
		return def
	}
	return f
}

func (e *env) dur(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, "duration")
		return def
	}
	return d
}

func (e *env) flag(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	e.fail(key, v, "boolean")
	return def
}

func logLevel(s string) string {
	s = strings.ToLower(s)
	if s == "warning" {
		return "warn"
	}
	return s
}

// ginMode falls back to release for anything Gin would not accept.
func ginMode(s string) string {
	switch s = strings.ToLower(s); s {
	case "debug", "release", "test":
		return s
	}
	return "release"
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeBasePath returns "/" or a path with a leading slash and no
// trailing one.
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
