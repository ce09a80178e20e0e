package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/nexus/am"
)

func TestSetupDisabled(t *testing.T) {
	before := otel.GetMeterProvider()

	shutdown, err := Setup(context.Background(), am.TelemetryConfig{}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.Equal(t, before, otel.GetMeterProvider(), "global provider untouched")
}

func TestSetupEnabled(t *testing.T) {
	// gRPC exporters connect lazily, so no collector is needed to set up
	shutdown, err := Setup(context.Background(), am.TelemetryConfig{
		Enabled:               true,
		OTLPEndpoint:          "127.0.0.1:4317",
		Insecure:              true,
		SampleRate:            0.5,
		ExportIntervalSeconds: 60,
		Environment:           "test",
	}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	_, isSDKMeter := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, isSDKMeter)
	_, isSDKTracer := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, isSDKTracer)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	// Flushing to an absent collector may fail; it must not hang
	_ = shutdown(ctx)
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(0).Description())
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}

func TestExportInterval(t *testing.T) {
	assert.Equal(t, DefaultExportInterval, exportInterval(am.TelemetryConfig{}))
	assert.Equal(t, 5*time.Second, exportInterval(am.TelemetryConfig{ExportIntervalSeconds: 5}))
}
