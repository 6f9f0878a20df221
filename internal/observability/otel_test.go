package observability

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tbourn/persona-chat/internal/config"
)

func preserveOTelGlobals(t *testing.T) {
	t.Helper()
	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	prevLog := log.Logger
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
		log.Logger = prevLog
	})
}

func enabledConfig(name string, insecure bool) config.OTELConfig {
	return config.OTELConfig{
		Enabled:     true,
		Insecure:    insecure,
		Endpoint:    "localhost:4317",
		ServiceName: name,
		SampleRatio: 1.0,
	}
}

func TestSetupOTel_Disabled_NoOp(t *testing.T) {
	preserveOTelGlobals(t)
	prevTP := otel.GetTracerProvider()

	shutdown, err := SetupOTel(context.Background(), config.OTELConfig{Endpoint: "ignored:4317"}, "v0")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("no-op shutdown returned error: %v", err)
	}
	if otel.GetTracerProvider() != prevTP {
		t.Fatalf("disabled tracing must not replace the provider")
	}
}

func TestSetupOTel_Enabled_InstallsProviderAndPropagator(t *testing.T) {
	for _, tc := range []struct {
		name     string
		insecure bool
	}{
		{"persona-chat-insecure", true},
		{"persona-chat-tls", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			preserveOTelGlobals(t)
			var buf bytes.Buffer
			log.Logger = zerolog.New(&buf)

			shutdown, err := SetupOTel(context.Background(), enabledConfig(tc.name, tc.insecure), "v1.2.3")
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			defer func() { _ = shutdown(context.Background()) }()

			if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
				t.Fatalf("expected *sdktrace.TracerProvider")
			}

			ctx, span := otel.Tracer("services/orchestrator").Start(context.Background(), "Orchestrator.SendMessage")
			carrier := propagation.MapCarrier{}
			otel.GetTextMapPropagator().Inject(ctx, carrier)
			span.End()
			if carrier.Get("traceparent") == "" {
				t.Fatalf("traceparent not injected: %v", carrier)
			}
			if !strings.Contains(buf.String(), "tracing enabled") {
				t.Fatalf("startup not logged: %s", buf.String())
			}
		})
	}
}

func TestSetupOTel_CanceledContext_StillSucceeds(t *testing.T) {
	preserveOTelGlobals(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // exporter connects lazily

	shutdown, err := SetupOTel(ctx, enabledConfig("svc-canceled", true), "v1")
	if err != nil {
		t.Fatalf("unexpected err with canceled ctx: %v", err)
	}
	ct, done := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer done()
	_ = shutdown(ct)
}

func TestSetupOTel_SeamErrors_LeaveGlobalsIntact(t *testing.T) {
	origExp, origRes := newOTLPExporterFn, newServiceResourceFn
	t.Cleanup(func() { newOTLPExporterFn, newServiceResourceFn = origExp, origRes })

	cases := map[string]func(){
		"exporter": func() {
			newOTLPExporterFn = func(context.Context, otlptrace.Client) (*otlptrace.Exporter, error) {
				return nil, errors.New("boom-exporter")
			}
		},
		"resource": func() {
			newServiceResourceFn = func(context.Context, string, string) (*resource.Resource, error) {
				return nil, errors.New("boom-resource")
			}
		},
	}
	for name, breakSeam := range cases {
		t.Run(name, func(t *testing.T) {
			preserveOTelGlobals(t)
			newOTLPExporterFn, newServiceResourceFn = origExp, origRes
			breakSeam()

			prevTP := otel.GetTracerProvider()
			prevProp := otel.GetTextMapPropagator()
			if _, err := SetupOTel(context.Background(), enabledConfig("svc", true), "v0"); err == nil {
				t.Fatalf("expected error")
			}
			if otel.GetTracerProvider() != prevTP || otel.GetTextMapPropagator() != prevProp {
				t.Fatalf("globals changed on failure")
			}
		})
	}
}

func TestSampler_Bounds(t *testing.T) {
	cases := []struct {
		ratio float64
		want  string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tc := range cases {
		if got := sampler(tc.ratio).Description(); !strings.HasPrefix(got, "ParentBased{root:"+tc.want) {
			t.Fatalf("sampler(%v) = %q; want root %q", tc.ratio, got, tc.want)
		}
	}
}

func TestLogError_WritesWarning(t *testing.T) {
	preserveOTelGlobals(t)
	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)

	logError(errors.New("export failed"))

	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, "export failed") || !strings.Contains(out, `"component":"otel"`) {
		t.Fatalf("unexpected log: %s", out)
	}
}
