package sysutil

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestSetLogLevel(t *testing.T) {
	orig := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(orig) })

	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"  DeBuG  ", zerolog.DebugLevel},
		{"trace", zerolog.TraceLevel},
		{"", zerolog.InfoLevel},
		{"Warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"panic", zerolog.PanicLevel},
		{"chatty", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		zerolog.SetGlobalLevel(zerolog.Disabled)
		SetLogLevel(tc.in)
		if got := zerolog.GlobalLevel(); got != tc.want {
			t.Errorf("SetLogLevel(%q) = %v; want %v", tc.in, got, tc.want)
		}
	}
}

func TestIsTruthy(t *testing.T) {
	for v, want := range map[string]bool{
		"1": true, " TRUE ": true, "Yes": true, "y": true, "on": true,
		"": false, "0": false, "off": false, "enabled": false,
	} {
		if IsTruthy(v) != want {
			t.Errorf("IsTruthy(%q) != %v", v, want)
		}
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := FirstNonEmpty(); got != "" {
		t.Fatalf("no args: %q", got)
	}
	if got := FirstNonEmpty(" ", "\t"); got != "" {
		t.Fatalf("blank args: %q", got)
	}
	// APP_VERSION unset falls through to the default.
	if got := FirstNonEmpty("", "dev"); got != "dev" {
		t.Fatalf("fallback: %q", got)
	}
	if got := FirstNonEmpty("  v1.2.0 ", "dev"); got != "  v1.2.0 " {
		t.Fatalf("value must be returned as is, got %q", got)
	}
}

func TestConfigureLogger_JSONAndPretty(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	ConfigureLogger(&buf, "warn", false)
	log.Info().Msg("hidden")
	log.Warn().Str("profile_id", "p1").Msg("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"profile_id":"p1"`) || !strings.Contains(out, `"time"`) {
		t.Fatalf("unexpected JSON output: %s", out)
	}

	buf.Reset()
	ConfigureLogger(&buf, "info", true)
	log.Info().Msg("pretty line")
	if out := buf.String(); !strings.Contains(out, "pretty line") || strings.HasPrefix(out, "{") {
		t.Fatalf("expected console output, got: %s", out)
	}
}
