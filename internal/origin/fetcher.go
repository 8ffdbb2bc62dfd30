// Package origin downloads source assets from the fixed origin host.
package origin

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "edgeresize/internal/errors"
	"edgeresize/internal/httpclient"
	"edgeresize/internal/logging"
	"edgeresize/internal/observability"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxBytes caps a single origin download.
const DefaultMaxBytes = 20 << 20

// Fetcher retrieves the bytes of an asset by its path on the origin.
type Fetcher interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
}

// Config configures an HTTPFetcher.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	MaxBytes     int64
	CacheEntries int
	Breaker      apperrors.CircuitBreakerConfig
}

// HTTPFetcher fetches originals over HTTP. Successful downloads are memoized
// in a small LRU and concurrent fetches of one path share a single request.
// Returned slices are shared and must not be modified.
type HTTPFetcher struct {
	client   *http.Client
	baseURL  string
	maxBytes int64
	cache    *lru.Cache[string, []byte]
	group    singleflight.Group

	logger  logging.Logger
	metrics *observability.MetricsCollector
	tracer  *observability.TracerProvider
}

// Option customizes an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithHTTPClient replaces the circuit-breaker client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *HTTPFetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithLogger sets the component logger.
func WithLogger(logger logging.Logger) Option {
	return func(f *HTTPFetcher) { f.logger = logging.OrNop(logger) }
}

// WithMetrics records fetch latency and status.
func WithMetrics(metrics *observability.MetricsCollector) Option {
	return func(f *HTTPFetcher) { f.metrics = metrics }
}

// WithTracer wraps each fetch in a span.
func WithTracer(tracer *observability.TracerProvider) Option {
	return func(f *HTTPFetcher) { f.tracer = tracer }
}

// NewHTTPFetcher builds a fetcher for cfg.BaseURL.
func NewHTTPFetcher(cfg Config, opts ...Option) (*HTTPFetcher, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("origin: base url is required")
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	f := &HTTPFetcher{
		client:   httpclient.NewWithCircuitBreaker(cfg.Timeout, "origin", cfg.Breaker),
		baseURL:  base,
		maxBytes: cfg.MaxBytes,
		logger:   logging.NewComponentLogger("origin"),
	}
	if cfg.CacheEntries > 0 {
		cache, err := lru.New[string, []byte](cfg.CacheEntries)
		if err != nil {
			return nil, fmt.Errorf("origin: cache: %w", err)
		}
		f.cache = cache
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// URL returns the absolute origin URL for path.
func (f *HTTPFetcher) URL(path string) string {
	return f.baseURL + "/" + strings.TrimPrefix(path, "/")
}

// Fetch implements Fetcher. Concurrent fetches of one URL share a single
// download that is not tied to any one caller's cancellation; it is bounded
// by the client timeout. A cancelled caller stops waiting and the others
// still get the bytes.
func (f *HTTPFetcher) Fetch(ctx context.Context, path string) ([]byte, error) {
	url := f.URL(path)
	if f.cache != nil {
		if data, ok := f.cache.Get(url); ok {
			f.metrics.RecordOriginFetch(ctx, "cache_hit", 0)
			return data, nil
		}
	}

	detached := context.WithoutCancel(ctx)
	ch := f.group.DoChan(url, func() (any, error) {
		return f.download(detached, url)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		f.logger.Debug("collapsed concurrent fetch of %s", url)
	}
	data := res.Val.([]byte)
	if f.cache != nil {
		f.cache.Add(url, data)
	}
	return data, nil
}

func (f *HTTPFetcher) download(ctx context.Context, url string) (data []byte, err error) {
	ctx, span := f.tracer.StartSpan(ctx, observability.SpanOriginFetch, attribute.String("http.url", url))
	start := time.Now()
	status := ""
	defer func() {
		if status == "" {
			status = apperrors.Label(err)
		}
		f.metrics.RecordOriginFetch(ctx, status, time.Since(start))
		observability.EndSpan(span, err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("origin: build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("origin: get %s: %w", url, err)
	}
	defer resp.Body.Close()

	status = strconv.Itoa(resp.StatusCode)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.FromHTTPStatus(resp.StatusCode, "origin "+url)
	}

	data, err = httpclient.ReadBody(resp, f.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("origin: read %s: %w", url, err)
	}
	f.logger.Debug("fetched %s (%d bytes)", url, len(data))
	return data, nil
}

var _ Fetcher = (*HTTPFetcher)(nil)
