package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/buildops/backend/internal/infrastructure/config"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func TestStartSpan(t *testing.T) {
	rec := installRecorder(t)

	ctx, span := StartSpan(context.Background(), "ledgersync.pull",
		WithAttribute("entity_type", "CONTACT"),
		WithAttribute("page", 2),
		WithSpanKind(trace.SpanKindClient),
	)
	assert.NotEmpty(t, TraceID(ctx))
	SetAttribute(span, "records", int64(7))
	RecordError(span, errors.New("ledger down"))
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	s := spans[0]
	assert.Equal(t, "ledgersync.pull", s.Name())
	assert.Equal(t, trace.SpanKindClient, s.SpanKind())
	assert.Equal(t, codes.Error, s.Status().Code)

	attrs := map[string]any{}
	for _, kv := range s.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "CONTACT", attrs["entity_type"])
	assert.Equal(t, int64(2), attrs["page"])
	assert.Equal(t, int64(7), attrs["records"])
}

func TestSpanHelpers_NilSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		SetAttribute(nil, "k", "v")
		RecordError(nil, errors.New("x"))
		SetOK(nil)
	})
	assert.Empty(t, TraceID(context.Background()))
}

func TestSamplerFor(t *testing.T) {
	assert.Contains(t, samplerFor(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, samplerFor(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, samplerFor(0.25).Description(), "TraceIDRatioBased")
}

func TestNewProviders_Disabled(t *testing.T) {
	logger := zaptest.NewLogger(t)
	p, err := NewProviders(context.Background(), config.TelemetryConfig{Enabled: false, ServiceName: "test"}, logger)
	require.NoError(t, err)

	assert.False(t, p.Tracer.IsEnabled())
	assert.False(t, p.Meter.IsEnabled())
	assert.False(t, p.Logs.IsEnabled())
	assert.NotNil(t, p.Meter.Meter("test"))
	assert.Same(t, logger, p.Logs.Bridge(logger, zap.InfoLevel))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProfiler(t *testing.T) {
	t.Run("disabled is a no-op", func(t *testing.T) {
		p, err := NewProfiler(ProfilerConfig{}, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.False(t, p.IsEnabled())
		assert.NoError(t, p.Stop())
		assert.NoError(t, p.Stop())
	})

	t.Run("enabled requires address", func(t *testing.T) {
		_, err := NewProfiler(ProfilerConfig{Enabled: true, ApplicationName: "buildops"}, zaptest.NewLogger(t))
		assert.Error(t, err)
	})
}

type syncRow struct {
	ID   uint
	Name string
}

func TestDBTracingPlugin(t *testing.T) {
	rec := installRecorder(t)
	core, logs := observer.New(zap.WarnLevel)

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&syncRow{}))

	plugin := NewDBTracingPlugin(DBTracingConfig{Enabled: true, SlowQueryThresh: time.Nanosecond}, zap.New(core))
	require.NoError(t, plugin.Register(db))

	ctx, span := StartSpan(context.Background(), "test")
	require.NoError(t, db.WithContext(ctx).Create(&syncRow{Name: "acme"}).Error)
	var rows []syncRow
	require.NoError(t, db.WithContext(ctx).Find(&rows).Error)
	span.End()

	assert.Len(t, rows, 1)
	assert.GreaterOrEqual(t, logs.FilterMessage("slow query").Len(), 2)
	assert.GreaterOrEqual(t, len(rec.Ended()), 3)
}

func TestDBTracingPlugin_Disabled(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	plugin := NewDBTracingPlugin(DBTracingConfig{}, zaptest.NewLogger(t))
	assert.Equal(t, 200*time.Millisecond, plugin.config.SlowQueryThresh)
	assert.NoError(t, plugin.Register(db))
}
