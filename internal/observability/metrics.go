package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector records rewrite, materialization, origin and storage metrics.
// A nil or disabled collector ignores every call.
type MetricsCollector struct {
	registry *promclient.Registry
	provider *sdkmetric.MeterProvider

	rewrites      metric.Int64Counter
	originResults metric.Int64Counter
	materialize   metric.Float64Histogram
	variantBytes  metric.Int64Histogram
	originFetch   metric.Float64Histogram
	storeWrites   metric.Int64Counter
	httpRequests  metric.Int64Counter
	httpLatency   metric.Float64Histogram
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// NewMetricsCollector creates a collector backed by its own Prometheus registry.
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("edgeresize")

	m := &MetricsCollector{registry: registry, provider: provider}

	if m.rewrites, err = meter.Int64Counter(
		"edgeresize.rewrites.total",
		metric.WithDescription("Viewer requests inspected by the rewriter"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create rewrites counter: %w", err)
	}

	if m.originResults, err = meter.Int64Counter(
		"edgeresize.origin_responses.total",
		metric.WithDescription("Origin responses handled by the materializer"),
		metric.WithUnit("{response}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create origin responses counter: %w", err)
	}

	if m.materialize, err = meter.Float64Histogram(
		"edgeresize.materialize.duration",
		metric.WithDescription("Time spent fetching and transcoding a missing variant"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create materialize histogram: %w", err)
	}

	if m.variantBytes, err = meter.Int64Histogram(
		"edgeresize.variant.size",
		metric.WithDescription("Size of generated variants"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, fmt.Errorf("failed to create variant size histogram: %w", err)
	}

	if m.originFetch, err = meter.Float64Histogram(
		"edgeresize.origin.fetch.duration",
		metric.WithDescription("Latency of original asset fetches"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create origin fetch histogram: %w", err)
	}

	if m.storeWrites, err = meter.Int64Counter(
		"edgeresize.store.writes.total",
		metric.WithDescription("Best-effort variant writes to the blob store"),
		metric.WithUnit("{write}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create store writes counter: %w", err)
	}

	if m.httpRequests, err = meter.Int64Counter(
		"edgeresize.http.requests.total",
		metric.WithDescription("Requests served by the local edge server"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	if m.httpLatency, err = meter.Float64Histogram(
		"edgeresize.http.latency",
		metric.WithDescription("Latency of requests served by the local edge server"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http latency histogram: %w", err)
	}

	return m, nil
}

// Enabled reports whether metrics are being recorded.
func (m *MetricsCollector) Enabled() bool {
	return m != nil && m.registry != nil
}

// Handler exposes the collector's registry in Prometheus text format.
func (m *MetricsCollector) Handler() http.Handler {
	if !m.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes the meter provider.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RecordRewrite counts a viewer request by outcome.
func (m *MetricsCollector) RecordRewrite(ctx context.Context, outcome, format string) {
	if m == nil || m.rewrites == nil {
		return
	}
	m.rewrites.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("format", format),
	))
}

// RecordOriginResponse counts an origin response by result.
func (m *MetricsCollector) RecordOriginResponse(ctx context.Context, result string) {
	if m == nil || m.originResults == nil {
		return
	}
	m.originResults.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordMaterialize records a generated variant.
func (m *MetricsCollector) RecordMaterialize(ctx context.Context, format string, duration time.Duration, size int) {
	if m == nil || m.materialize == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("format", format))
	m.materialize.Record(ctx, duration.Seconds(), attrs)
	m.variantBytes.Record(ctx, int64(size), attrs)
}

// RecordOriginFetch records the latency of an origin fetch.
func (m *MetricsCollector) RecordOriginFetch(ctx context.Context, status string, duration time.Duration) {
	if m == nil || m.originFetch == nil {
		return
	}
	m.originFetch.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// RecordStoreWrite counts a blob store write. status is "ok" or the error
// class of the failure.
func (m *MetricsCollector) RecordStoreWrite(ctx context.Context, status string) {
	if m == nil || m.storeWrites == nil {
		return
	}
	m.storeWrites.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordHTTPServerRequest records a request handled by the local edge server.
func (m *MetricsCollector) RecordHTTPServerRequest(ctx context.Context, method, route string, status int, latency time.Duration) {
	if m == nil || m.httpRequests == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", strconv.Itoa(status)),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpLatency.Record(ctx, latency.Seconds(), attrs)
}
