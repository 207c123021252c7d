package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestTracingConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "")
	t.Setenv("TRACE_SAMPLE_RATIO", "")

	cfg, err := TracingConfigFromEnv("twitch-herald", "1.0.0", "streamer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SampleRatio != 1 || !cfg.Insecure || cfg.Endpoint != "" {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestTracingConfigFromEnvRejectsBadValues(t *testing.T) {
	tests := []struct {
		key, val string
	}{
		{"TRACE_SAMPLE_RATIO", "often"},
		{"TRACE_SAMPLE_RATIO", "1.5"},
		{"TRACE_SAMPLE_RATIO", "-0.1"},
		{"OTEL_EXPORTER_OTLP_INSECURE", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.val, func(t *testing.T) {
			t.Setenv("TRACE_SAMPLE_RATIO", "")
			t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "")
			t.Setenv(tt.key, tt.val)
			if _, err := TracingConfigFromEnv("svc", "v", ""); err == nil {
				t.Errorf("%s=%q should be rejected", tt.key, tt.val)
			}
		})
	}
}

func TestSamplerHonorsRatioForRootSpans(t *testing.T) {
	tests := []struct {
		ratio float64
		want  sdktrace.SamplingDecision
	}{
		{0, sdktrace.Drop},
		{1, sdktrace.RecordAndSample},
	}
	for _, tt := range tests {
		s := TracingConfig{SampleRatio: tt.ratio}.sampler()
		got := s.ShouldSample(sdktrace.SamplingParameters{
			ParentContext: context.Background(),
			TraceID:       trace.TraceID{0x01, 0x02},
			Name:          "live.check",
		}).Decision
		if got != tt.want {
			t.Errorf("ratio %v: decision = %v, want %v", tt.ratio, got, tt.want)
		}
	}
}

func TestSamplerFollowsSampledParent(t *testing.T) {
	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x0a},
		SpanID:     trace.SpanID{0x0b},
		TraceFlags: trace.FlagsSampled,
	})
	s := TracingConfig{SampleRatio: 0}.sampler()
	got := s.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: trace.ContextWithSpanContext(context.Background(), parent),
		TraceID:       parent.TraceID(),
		Name:          "helix.get",
	}).Decision
	if got != sdktrace.RecordAndSample {
		t.Errorf("decision = %v, want child of sampled parent to be sampled", got)
	}
}

func TestResourceAttributesIncludeChannel(t *testing.T) {
	attrs := TracingConfig{ServiceName: "twitch-herald", ServiceVersion: "1.0.0", Channel: "streamer"}.attributes()
	want := attribute.String("twitch.channel", "streamer")
	found := false
	for _, a := range attrs {
		if a == want {
			found = true
		}
	}
	if !found {
		t.Errorf("attributes %v missing %v", attrs, want)
	}

	attrs = TracingConfig{ServiceName: "twitch-herald"}.attributes()
	for _, a := range attrs {
		if a.Key == "twitch.channel" {
			t.Error("empty channel should not be recorded")
		}
	}
}

func TestInitTracingWithoutEndpointIsNoop(t *testing.T) {
	flush, err := InitTracing(TracingConfig{ServiceName: "twitch-herald"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	flush()
}
