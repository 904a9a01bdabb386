package observability

import (
	"context"
	"errors"
	"testing"

	"spark/internal/config"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{Service: "spark-test"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	span, ctx := NewSpan(context.Background(), "test.span")
	assert.NotNil(t, ctx)
	span.SetError(errors.New("boom"))
	span.End()
}

func TestInitTracing_StdoutExporter(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Service:  "spark-test",
		Enabled:  true,
		Exporter: config.ExporterStdout,
		Ratio:    1,
	})
	require.NoError(t, err)

	span, _ := NewSpan(context.Background(), "test.enabled")
	span.End()
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracing_UnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Service: "spark-test", Enabled: true, Exporter: "jaeger"})
	assert.ErrorContains(t, err, "jaeger")
}

func TestTracingFromConfig(t *testing.T) {
	cfg := &config.Config{
		Env:                "production",
		TracingEnabled:     true,
		TracingExporter:    config.ExporterOTLP,
		OTLPEndpoint:       "collector:4318",
		TracingSampleRatio: 0.25,
	}
	tc := TracingFromConfig(cfg, "spark-relay")
	assert.Equal(t, TracingConfig{
		Service:  "spark-relay",
		Version:  Version,
		Env:      "production",
		Enabled:  true,
		Exporter: config.ExporterOTLP,
		Endpoint: "collector:4318",
		Insecure: false,
		Ratio:    0.25,
	}, tc)

	cfg.Env = "development"
	assert.True(t, TracingFromConfig(cfg, "spark-relay").Insecure)
}

func TestNewSampler_RootDecisions(t *testing.T) {
	params := sdktrace.SamplingParameters{ParentContext: context.Background(), TraceID: trace.TraceID{1}, Name: "root"}

	tests := []struct {
		ratio float64
		want  sdktrace.SamplingDecision
	}{
		{ratio: 1, want: sdktrace.RecordAndSample},
		{ratio: 0, want: sdktrace.Drop},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, newSampler(tt.ratio).ShouldSample(params).Decision, "ratio %v", tt.ratio)
	}
}

func TestTrackQuery_Observes(t *testing.T) {
	TrackQuery("select", "observability_test")()
	assert.GreaterOrEqual(t, testutil.CollectAndCount(GatewayQueryLatency), 1)
}

func TestViewLogger_DoesNotPanic(t *testing.T) {
	l := NewViewLogger("test")
	ctx := WithCorrelationID(WithViewer(context.Background(), "viewer-1"), "c-1")
	l.LogRefresh(ctx, OutcomeApplied, map[string]any{"rows": 2})
	l.LogFetchError(ctx, errors.New("boom"), nil)
	l.LogMutation(ctx, "like", nil, map[string]any{"post_id": "p1"})
	l.LogMutation(ctx, "like", errors.New("boom"), nil)
	l.LogLifecycle(ctx, "activated", nil)
}
