// Package materializer turns origin misses into generated responses: it
// fetches the original, resizes it, answers inline and stores the result so
// the next request is a hit.
package materializer

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"edgeresize/internal/async"
	"edgeresize/internal/blobstore"
	"edgeresize/internal/edge"
	apperrors "edgeresize/internal/errors"
	"edgeresize/internal/httpclient"
	"edgeresize/internal/id"
	"edgeresize/internal/logging"
	"edgeresize/internal/observability"
	"edgeresize/internal/origin"
	"edgeresize/internal/transcode"
	"edgeresize/internal/variant"
)

// Result labels used for logs and metrics.
const (
	ResultPassthrough = "passthrough"
	ResultGenerated   = "generated"
	ResultOriginal    = "original"
	ResultNotFound    = "not_found"
)

// DimensionParams are the query parameters that mark a resize request. d is
// the legacy single-parameter form.
var DimensionParams = []string{"w", "h", "d"}

// Config holds the metadata written with every variant.
type Config struct {
	CacheControl string
	StorageClass string
	PutTimeout   time.Duration
	MaxDimension int
}

// DefaultConfig returns the storage metadata used when none is configured.
func DefaultConfig() Config {
	return Config{
		CacheControl: "max-age=31536000",
		StorageClass: "STANDARD",
		PutTimeout:   15 * time.Second,
		MaxDimension: variant.DefaultMaxDimension,
	}
}

// Materializer is safe for concurrent use.
type Materializer struct {
	fetcher    origin.Fetcher
	transcoder transcode.Transcoder
	store      blobstore.Store
	cfg        Config

	logger  logging.Logger
	metrics *observability.MetricsCollector
	tracer  *observability.TracerProvider
	jobs    async.Group
}

// Option customizes a Materializer.
type Option func(*Materializer)

func WithLogger(logger logging.Logger) Option {
	return func(m *Materializer) { m.logger = logging.OrNop(logger) }
}

func WithMetrics(metrics *observability.MetricsCollector) Option {
	return func(m *Materializer) { m.metrics = metrics }
}

func WithTracer(tracer *observability.TracerProvider) Option {
	return func(m *Materializer) { m.tracer = tracer }
}

// New wires a Materializer. Zero-valued fields of cfg take their defaults.
func New(fetcher origin.Fetcher, transcoder transcode.Transcoder, store blobstore.Store, cfg Config, opts ...Option) *Materializer {
	defaults := DefaultConfig()
	if cfg.CacheControl == "" {
		cfg.CacheControl = defaults.CacheControl
	}
	if cfg.StorageClass == "" {
		cfg.StorageClass = defaults.StorageClass
	}
	if cfg.PutTimeout <= 0 {
		cfg.PutTimeout = defaults.PutTimeout
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = defaults.MaxDimension
	}
	m := &Materializer{
		fetcher:    fetcher,
		transcoder: transcoder,
		store:      store,
		cfg:        cfg,
		logger:     logging.NewComponentLogger("materializer"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsMiss reports whether an origin status means the object does not exist yet.
func IsMiss(status int) bool {
	return status == http.StatusNotFound || status == http.StatusForbidden
}

// HasDimensions reports whether the viewer asked for a resize.
func HasDimensions(req *edge.Request) bool {
	query := req.Query()
	for _, name := range DimensionParams {
		if query.Get(name) != "" {
			return true
		}
	}
	return false
}

// Materialize answers resp in place and returns it. Responses that are not a
// miss are returned untouched. Every failure while handling a miss becomes a
// 404 with an empty body; nothing is returned as an error.
func (m *Materializer) Materialize(ctx context.Context, req *edge.Request, resp *edge.Response) *edge.Response {
	if resp == nil || req == nil || !IsMiss(resp.StatusCode()) {
		m.metrics.RecordOriginResponse(ctx, ResultPassthrough)
		return resp
	}

	ctx, _ = id.EnsureLogID(ctx)
	log := logging.FromContext(ctx, m.logger)
	key := strings.TrimPrefix(req.URI, "/")

	ctx, span := m.tracer.StartSpan(ctx, observability.SpanMaterialize)
	start := time.Now()
	result, body, contentType, err := m.generate(ctx, req, key)
	observability.EndSpan(span, err)
	if err != nil {
		if httpclient.IsResponseTooLarge(err) {
			log.Warn("miss %s not materialized: original exceeds the origin size limit: %v", key, err)
		} else {
			log.Warn("miss %s (status %s) not materialized: %v", key, resp.Status, err)
		}
		m.metrics.RecordOriginResponse(ctx, ResultNotFound)
		return notFound(resp)
	}

	m.metrics.RecordOriginResponse(ctx, result)
	m.metrics.RecordMaterialize(ctx, contentType, time.Since(start), len(body))
	log.Info("materialized %s (%s, %d bytes) in %v", key, contentType, len(body), time.Since(start).Round(time.Millisecond))

	m.persist(ctx, key, body, contentType)
	return ok(resp, body, contentType)
}

func (m *Materializer) generate(ctx context.Context, req *edge.Request, key string) (string, []byte, string, error) {
	if !HasDimensions(req) {
		data, err := m.fetcher.Fetch(ctx, key)
		if err != nil {
			return "", nil, "", fmt.Errorf("fetch original: %w", err)
		}
		return ResultOriginal, data, transcode.ContentType(path.Ext(key)), nil
	}

	p, err := variant.Parse(key)
	if err != nil {
		return "", nil, "", err
	}
	if err := variant.ValidateDimensions(p.Width, p.Height, m.cfg.MaxDimension); err != nil {
		return "", nil, "", err
	}
	format := transcode.Normalize(p.Format)

	src, err := m.fetcher.Fetch(ctx, p.OriginalKey())
	if err != nil {
		return "", nil, "", fmt.Errorf("fetch original: %w", err)
	}

	tctx, span := m.tracer.StartSpan(ctx, observability.SpanTranscode, observability.VariantAttrs(key, format, p.Width, p.Height)...)
	out, err := m.transcoder.Transcode(tctx, src, p.Width, p.Height, format)
	observability.EndSpan(span, err)
	if err != nil {
		return "", nil, "", fmt.Errorf("transcode %s: %w", p.OriginalKey(), err)
	}
	return ResultGenerated, out, transcode.ContentType(format), nil
}

// persist writes the variant on a detached goroutine. The write outlives the
// request context and its outcome only reaches logs and metrics.
func (m *Materializer) persist(ctx context.Context, key string, body []byte, contentType string) {
	if m.store == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	log := logging.FromContext(ctx, m.logger)
	m.jobs.Go(log, "persist "+key, func() {
		pctx, cancel := context.WithTimeout(detached, m.cfg.PutTimeout)
		defer cancel()

		pctx, span := m.tracer.StartSpan(pctx, observability.SpanStorePut)
		_, err := m.store.PutObject(pctx, key, bytes.NewReader(body), blobstore.PutOptions{
			ContentType:  contentType,
			CacheControl: m.cfg.CacheControl,
			StorageClass: m.cfg.StorageClass,
			Size:         int64(len(body)),
		})
		observability.EndSpan(span, err)
		m.metrics.RecordStoreWrite(pctx, apperrors.Label(err))
		if err != nil {
			log.Warn("store %s failed: %v", key, err)
			return
		}
		log.Debug("stored %s", key)
	})
}

// Wait blocks until every pending store write has finished.
func (m *Materializer) Wait() {
	m.jobs.Wait()
}

// Drain waits for pending store writes, giving up after PutTimeout or when
// ctx is done.
func (m *Materializer) Drain(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.PutTimeout)
	defer cancel()
	return m.jobs.WaitContext(ctx)
}

func ok(resp *edge.Response, body []byte, contentType string) *edge.Response {
	if resp.Headers == nil {
		resp.Headers = edge.Headers{}
	}
	resp.SetStatus(http.StatusOK, http.StatusText(http.StatusOK))
	resp.Body = base64.StdEncoding.EncodeToString(body)
	resp.BodyEncoding = edge.BodyEncodingBase64
	resp.Headers.Del("Content-Encoding")
	resp.Headers.Set("Content-Type", contentType)
	return resp
}

func notFound(resp *edge.Response) *edge.Response {
	resp.SetStatus(http.StatusNotFound, http.StatusText(http.StatusNotFound))
	resp.Body = ""
	resp.BodyEncoding = ""
	return resp
}
