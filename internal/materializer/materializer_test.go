package materializer

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"
	"testing"

	"edgeresize/internal/blobstore"
	"edgeresize/internal/edge"
	"edgeresize/internal/httpclient"
	"edgeresize/internal/logging"
	"edgeresize/internal/transcode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mu      sync.Mutex
	objects map[string][]byte
	paths   []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	data, ok := f.objects[path]
	if !ok {
		return nil, errors.New("origin returned status 404")
	}
	return data, nil
}

type failingStore struct {
	mu    sync.Mutex
	calls int
}

func (s *failingStore) PutObject(ctx context.Context, key string, body io.Reader, opts blobstore.PutOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return "", errors.New("bucket unreachable")
}

type panickingStore struct{}

func (panickingStore) PutObject(context.Context, string, io.Reader, blobstore.PutOptions) (string, error) {
	panic("store exploded")
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: 200, G: uint8(x), B: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func miss(uri, query, status string) (*edge.Request, *edge.Response) {
	req := &edge.Request{URI: uri, QueryString: query, Headers: edge.Headers{}}
	resp := &edge.Response{Status: status, StatusDescription: "Not Found", Headers: edge.Headers{}}
	resp.Headers.Set("Content-Encoding", "gzip")
	resp.Headers.Set("Content-Type", "application/xml")
	return req, resp
}

func decodeBody(t *testing.T, resp *edge.Response) []byte {
	t.Helper()
	require.Equal(t, edge.BodyEncodingBase64, resp.BodyEncoding)
	data, err := base64.StdEncoding.DecodeString(resp.Body)
	require.NoError(t, err)
	return data
}

func newMaterializer(fetcher *fakeFetcher, store blobstore.Store) *Materializer {
	return New(fetcher, transcode.NewImagingTranscoder(), store, Config{}, WithLogger(logging.Nop()))
}

func TestMaterializeGeneratesWebPVariant(t *testing.T) {
	fetcher := &fakeFetcher{objects: map[string][]byte{"images/photo.jpg": pngBytes(t, 400, 300)}}
	store := blobstore.NewMemoryStore()
	m := newMaterializer(fetcher, store)

	req, resp := miss("/images/200x100/webp/photo.jpg", "w=200&h=100", "404")
	out := m.Materialize(context.Background(), req, resp)
	m.Wait()

	assert.Equal(t, "200", out.Status)
	assert.Equal(t, "OK", out.StatusDescription)
	assert.Equal(t, "image/webp", out.Headers.Get("content-type"))
	assert.Empty(t, out.Headers.Get("content-encoding"))
	assert.Equal(t, []string{"images/photo.jpg"}, fetcher.paths)

	body := decodeBody(t, out)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, "webp", format)
	assert.Equal(t, 200, cfg.Width)
	assert.Equal(t, 100, cfg.Height)

	rc, info, err := store.GetObject(context.Background(), "images/200x100/webp/photo.jpg")
	require.NoError(t, err)
	stored, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, body, stored)
	assert.Equal(t, "image/webp", info.ContentType)
	assert.Equal(t, "max-age=31536000", info.CacheControl)
	assert.Equal(t, "STANDARD", info.StorageClass)
}

func TestMaterializeMapsJpgToJpeg(t *testing.T) {
	fetcher := &fakeFetcher{objects: map[string][]byte{"photo.jpg": pngBytes(t, 50, 50)}}
	m := newMaterializer(fetcher, blobstore.NewMemoryStore())

	req, resp := miss("/20x10/jpg/photo.jpg", "w=20&h=10", "403")
	out := m.Materialize(context.Background(), req, resp)
	m.Wait()

	require.Equal(t, "200", out.Status)
	assert.Equal(t, "image/jpeg", out.Headers.Get("content-type"))
	_, format, err := image.DecodeConfig(bytes.NewReader(decodeBody(t, out)))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestMaterializeServesOriginalWithoutDimensions(t *testing.T) {
	original := []byte("raw gif bytes")
	fetcher := &fakeFetcher{objects: map[string][]byte{"images/anim.gif": original}}
	store := blobstore.NewMemoryStore()
	m := newMaterializer(fetcher, store)

	req, resp := miss("/images/anim.gif", "", "404")
	out := m.Materialize(context.Background(), req, resp)
	m.Wait()

	require.Equal(t, "200", out.Status)
	assert.Equal(t, original, decodeBody(t, out))
	assert.Equal(t, "image/gif", out.Headers.Get("content-type"))
	_, info, err := store.GetObject(context.Background(), "images/anim.gif")
	require.NoError(t, err)
	assert.Equal(t, "image/gif", info.ContentType)
}

func TestMaterializeLegacyDimensionParam(t *testing.T) {
	fetcher := &fakeFetcher{objects: map[string][]byte{"img/a.png": pngBytes(t, 20, 20)}}
	m := newMaterializer(fetcher, blobstore.NewMemoryStore())

	req, resp := miss("/img/10x10/png/a.png", "d=10x10", "404")
	out := m.Materialize(context.Background(), req, resp)
	m.Wait()

	require.Equal(t, "200", out.Status)
	assert.Equal(t, []string{"img/a.png"}, fetcher.paths)
}

func TestMaterializeFetchFailureIsNotFound(t *testing.T) {
	for _, tc := range []struct{ uri, query string }{
		{"/images/photo.jpg", ""},
		{"/images/200x100/webp/photo.jpg", "w=200&h=100"},
	} {
		store := blobstore.NewMemoryStore()
		m := newMaterializer(&fakeFetcher{}, store)
		req, resp := miss(tc.uri, tc.query, "404")
		out := m.Materialize(context.Background(), req, resp)
		m.Wait()

		assert.Equal(t, "404", out.Status, tc.uri)
		assert.Equal(t, "Not Found", out.StatusDescription)
		assert.Empty(t, out.Body)
		assert.Empty(t, store.Keys())
	}
}

func TestMaterializeFailurePaths(t *testing.T) {
	fetcher := &fakeFetcher{objects: map[string][]byte{
		"images/photo.jpg":  []byte("corrupt"),
		"images/photo.heic": pngBytes(t, 4, 4),
		"images/photo.png":  pngBytes(t, 4, 4),
	}}
	cases := map[string][2]string{
		"not a variant":  {"/images/photo.png", "w=10&h=10"},
		"corrupt source": {"/images/10x10/jpg/photo.jpg", "w=10&h=10"},
		"unencodable":    {"/images/10x10/heic/photo.heic", "w=10&h=10"},
		"oversized":      {"/images/99999x10/png/photo.png", "w=99999&h=10"},
		"zero height":    {"/images/200x0/png/photo.png", "w=200"},
		"zero width":     {"/images/0x100/png/photo.png", "w=0&h=100"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			m := newMaterializer(fetcher, blobstore.NewMemoryStore())
			req, resp := miss(tc[0], tc[1], "404")
			out := m.Materialize(context.Background(), req, resp)
			m.Wait()
			assert.Equal(t, "404", out.Status)
			assert.Empty(t, out.Body)
		})
	}
}

func TestMaterializeIgnoresStoreFailures(t *testing.T) {
	fetcher := &fakeFetcher{objects: map[string][]byte{"images/photo.jpg": pngBytes(t, 64, 64)}}
	store := &failingStore{}
	m := newMaterializer(fetcher, store)

	var bodies []string
	for i := 0; i < 2; i++ {
		req, resp := miss("/images/32x32/png/photo.jpg", "w=32&h=32", "404")
		out := m.Materialize(context.Background(), req, resp)
		require.Equal(t, "200", out.Status)
		assert.NotEmpty(t, out.Body)
		bodies = append(bodies, out.Body)
	}
	m.Wait()

	assert.Equal(t, bodies[0], bodies[1])
	assert.Equal(t, 2, store.calls)
}

func TestMaterializeSurvivesPanickingStore(t *testing.T) {
	fetcher := &fakeFetcher{objects: map[string][]byte{"a.png": pngBytes(t, 8, 8)}}
	m := newMaterializer(fetcher, panickingStore{})

	req, resp := miss("/4x4/png/a.png", "w=4&h=4", "404")
	out := m.Materialize(context.Background(), req, resp)
	m.Wait()
	assert.Equal(t, "200", out.Status)
}

func TestMaterializeStoreOutlivesRequestContext(t *testing.T) {
	fetcher := &fakeFetcher{objects: map[string][]byte{"a.png": pngBytes(t, 8, 8)}}
	store := blobstore.NewMemoryStore()
	m := newMaterializer(fetcher, store)

	ctx, cancel := context.WithCancel(context.Background())
	req, resp := miss("/4x4/png/a.png", "w=4&h=4", "404")
	out := m.Materialize(ctx, req, resp)
	cancel()
	m.Wait()

	assert.Equal(t, "200", out.Status)
	assert.Equal(t, []string{"4x4/png/a.png"}, store.Keys())
}

func TestMaterializePassesThroughHits(t *testing.T) {
	fetcher := &fakeFetcher{}
	m := newMaterializer(fetcher, blobstore.NewMemoryStore())

	for _, status := range []string{"200", "304", "500"} {
		req, resp := miss("/images/200x100/webp/photo.jpg", "w=200&h=100", status)
		resp.Body = "untouched"
		out := m.Materialize(context.Background(), req, resp)
		assert.Same(t, resp, out)
		assert.Equal(t, status, out.Status)
		assert.Equal(t, "untouched", out.Body)
		assert.Equal(t, "gzip", out.Headers.Get("content-encoding"))
	}
	assert.Empty(t, fetcher.paths)
}

func TestMaterializeCustomStorageMetadata(t *testing.T) {
	fetcher := &fakeFetcher{objects: map[string][]byte{"a.png": pngBytes(t, 8, 8)}}
	store := blobstore.NewMemoryStore()
	m := New(fetcher, transcode.NewImagingTranscoder(), store, Config{
		CacheControl: "public, max-age=60",
		StorageClass: "REDUCED_REDUNDANCY",
	}, WithLogger(logging.Nop()))

	req, resp := miss("/4x4/png/a.png", "w=4&h=4", "404")
	m.Materialize(context.Background(), req, resp)
	m.Wait()

	_, info, err := store.GetObject(context.Background(), "4x4/png/a.png")
	require.NoError(t, err)
	assert.Equal(t, "public, max-age=60", info.CacheControl)
	assert.Equal(t, "REDUCED_REDUNDANCY", info.StorageClass)
}

func TestHasDimensions(t *testing.T) {
	assert.True(t, HasDimensions(&edge.Request{QueryString: "w=1"}))
	assert.True(t, HasDimensions(&edge.Request{QueryString: "h=1"}))
	assert.True(t, HasDimensions(&edge.Request{QueryString: "d=1x1"}))
	assert.False(t, HasDimensions(&edge.Request{QueryString: "w="}))
	assert.False(t, HasDimensions(&edge.Request{}))
}

type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureLogger) add(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
}

func (c *captureLogger) Debug(format string, args ...any) { c.add(format, args...) }
func (c *captureLogger) Info(format string, args ...any)  { c.add(format, args...) }
func (c *captureLogger) Warn(format string, args ...any)  { c.add(format, args...) }
func (c *captureLogger) Error(format string, args ...any) { c.add(format, args...) }

type oversizedFetcher struct{}

func (oversizedFetcher) Fetch(context.Context, string) ([]byte, error) {
	return nil, fmt.Errorf("origin: read: %w", httpclient.ResponseTooLargeError{Limit: 10})
}

func TestMaterializeReportsOversizedOriginals(t *testing.T) {
	logger := &captureLogger{}
	m := New(oversizedFetcher{}, transcode.NewImagingTranscoder(), blobstore.NewMemoryStore(), Config{}, WithLogger(logger))

	req, resp := miss("/images/10x10/png/photo.png", "w=10&h=10", "404")
	out := m.Materialize(context.Background(), req, resp)
	m.Wait()

	assert.Equal(t, "404", out.Status)
	require.Len(t, logger.lines, 1)
	assert.Contains(t, logger.lines[0], "exceeds the origin size limit")
}
