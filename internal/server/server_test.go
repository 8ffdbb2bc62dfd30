package server

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"edgeresize/internal/blobstore"
	"edgeresize/internal/config"
	"edgeresize/internal/di"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngFixture(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 64, 32))
	for x := 0; x < 64; x++ {
		img.Set(x, x%32, color.NRGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestServer(t *testing.T, overrides map[string]any) (*Server, *blobstore.MemoryStore, *di.Container) {
	t.Helper()
	return newTestServerWithLog(t, overrides, io.Discard)
}

func newTestServerWithLog(t *testing.T, overrides map[string]any, logOutput io.Writer) (*Server, *blobstore.MemoryStore, *di.Container) {
	t.Helper()
	source := pngFixture(t)
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/photo.png" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(source)
	}))
	t.Cleanup(origin.Close)

	values := map[string]any{
		"domain":          "example.org",
		"origin.base_url": origin.URL,
		"storage.backend": "memory",
	}
	for k, v := range overrides {
		values[k] = v
	}
	cfg, err := config.Load(config.WithOverrides(values))
	require.NoError(t, err)

	store := blobstore.NewMemoryStore()
	c, err := di.BuildContainer(cfg, di.Options{LogOutput: logOutput, Store: store})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Cleanup(context.Background()) })
	return New(c), store, c
}

func get(t *testing.T, h http.Handler, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServeResizesThenServesFromStore(t *testing.T) {
	s, store, c := newTestServer(t, nil)
	accept := http.Header{"Accept": {"image/webp,*/*"}}

	rec := get(t, s.Handler(), "/images/photo.png?w=32&h=16", accept)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/webp", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
	cfg, format, err := image.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "webp", format)
	assert.Equal(t, 32, cfg.Width)
	assert.Equal(t, 16, cfg.Height)

	c.Materializer.Wait()
	assert.Equal(t, []string{"images/32x16/webp/photo.png"}, store.Keys())

	rec = get(t, s.Handler(), "/images/photo.png?w=32&h=16", accept)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "max-age=31536000", rec.Header().Get("Cache-Control"))
}

func TestServeOriginalWithoutDimensions(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	rec := get(t, s.Handler(), "/images/photo.png", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, pngFixture(t), rec.Body.Bytes())
}

func TestServeMissingOriginIsNotFound(t *testing.T) {
	s, store, c := newTestServer(t, nil)
	rec := get(t, s.Handler(), "/images/missing.png?w=10&h=10", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
	c.Materializer.Wait()
	assert.Empty(t, store.Keys())
}

func TestServeHealthAndMetrics(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	rec := get(t, s.Handler(), "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")

	get(t, s.Handler(), "/images/photo.png?w=8&h=8", nil)
	rec = get(t, s.Handler(), "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "edgeresize_rewrites")
}

func TestServeRejectsWrites(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/images/photo.png", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServeRateLimit(t *testing.T) {
	s, _, _ := newTestServer(t, map[string]any{"server.rate_limit": 0.001, "server.rate_burst": 1})
	assert.Equal(t, http.StatusOK, get(t, s.Handler(), "/healthz", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(t, s.Handler(), "/healthz", nil).Code)
}

func TestAccessLogCarriesRequestID(t *testing.T) {
	var logs bytes.Buffer
	srv, _, _ := newTestServerWithLog(t, nil, &logs)

	rec := get(t, srv.Handler(), "/healthz", http.Header{"X-Request-Id": {"req-7"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-7", rec.Header().Get("X-Request-ID"))

	out := logs.String()
	assert.Contains(t, out, `"request_id":"req-7"`)
	assert.Contains(t, out, `"uri":"/healthz"`)
	assert.Contains(t, out, `"status":200`)
}
