package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/avatarflow/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

// saveAndRestoreGlobalProviders snapshots the current global OTel providers
// and restores them via t.Cleanup so tests don't leak state.
func saveAndRestoreGlobalProviders(t *testing.T) {
	t.Helper()
	origTP := otel.GetTracerProvider()
	origMP := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetMeterProvider(origMP)
	})
}

func TestInit_Disabled(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	p, err := Init(config.TelemetryConfig{Enabled: false}, "", zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Nil(t, p.tp)
	assert.Nil(t, p.mp)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_Enabled(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	cfg := config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "avatarflow-test",
		SampleRate:   0.5,
	}

	p, err := Init(cfg, "v0.0.1-test", zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})

	assert.NotNil(t, p.tp)
	assert.NotNil(t, p.mp)

	_, tpIsSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	_, mpIsSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, tpIsSDK)
	assert.True(t, mpIsSDK)
}

func TestProviders_Shutdown_Nil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestStartSpan_RecordsError(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	_, ok := StartSpan(context.Background(), "pipeline.render", attribute.String("session.id", "s1"))
	EndSpan(ok, nil)

	_, failed := StartSpan(context.Background(), "pipeline.generate")
	EndSpan(failed, errors.New("upstream down"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "pipeline.render", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String("session.id", "s1"))
	assert.Equal(t, InstrumentationName, spans[0].InstrumentationScope().Name)

	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "upstream down", spans[1].Status().Description)
}

func TestBuildVersion(t *testing.T) {
	// 测试二进制中 ReadBuildInfo 通常返回 "(devel)"
	assert.Equal(t, "dev", buildVersion())
}
