package observability

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgeresize/internal/id"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
	assert.True(t, config.Metrics.Enabled)
	assert.Equal(t, "/metrics", config.Metrics.Path)
	assert.False(t, config.Tracing.Enabled)
	assert.Equal(t, "otlp", config.Tracing.Exporter)
	assert.Equal(t, 1.0, config.Tracing.SampleRate)
}

func TestNewBuildsNoopTracerWhenDisabled(t *testing.T) {
	obs, err := New(DefaultConfig(), io.Discard)
	require.NoError(t, err)
	require.NotNil(t, obs.Tracer)

	_, span := obs.Tracer.StartSpan(context.Background(), SpanMaterialize)
	EndSpan(span, nil)
	assert.NoError(t, obs.Shutdown(context.Background()))
}

func TestNewRejectsUnknownExporter(t *testing.T) {
	config := DefaultConfig()
	config.Tracing.Enabled = true
	config.Tracing.Exporter = "carrier-pigeon"

	_, err := New(config, io.Discard)
	assert.Error(t, err)
}

func TestLoggerIncludesContextIDs(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger(LogConfig{Level: "debug", Format: "json", Output: buf})

	ctx := id.WithRequestID(context.Background(), "req-42")
	logger.InfoContext(ctx, "hello")

	out := buf.String()
	assert.Contains(t, out, `"request_id":"req-42"`)
	assert.Contains(t, out, `"msg":"hello"`)
}

func TestLoggerRespectsLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger(LogConfig{Level: "warn", Format: "text", Output: buf})

	logger.Info("quiet")
	logger.Warn("loud")

	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "loud")
}

func TestMetricsHandlerExposesCounters(t *testing.T) {
	metrics, err := NewMetricsCollector(MetricsConfig{Enabled: true})
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordRewrite(ctx, "rewritten", "webp")
	metrics.RecordOriginResponse(ctx, "materialized")
	metrics.RecordMaterialize(ctx, "webp", 20*time.Millisecond, 512)
	metrics.RecordStoreWrite(ctx, "ok")

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "edgeresize_rewrites"), body)
	assert.True(t, strings.Contains(body, "edgeresize_store_writes"), body)
}

func TestDisabledMetricsAreSafe(t *testing.T) {
	var nilCollector *MetricsCollector
	nilCollector.RecordRewrite(context.Background(), "rewritten", "jpg")
	nilCollector.RecordStoreWrite(context.Background(), "transient")

	disabled, err := NewMetricsCollector(MetricsConfig{})
	require.NoError(t, err)
	assert.False(t, disabled.Enabled())

	rec := httptest.NewRecorder()
	disabled.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "(empty)", MaskSecret(""))
	assert.Equal(t, "********", MaskSecret("short"))
	assert.Equal(t, "AKIA...YZ", MaskSecret("AKIAABCDEFGHXYZ"))
}
