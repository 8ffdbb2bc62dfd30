package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	apperrors "edgeresize/internal/errors"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var variantOpts = PutOptions{
	ContentType:  "image/webp",
	CacheControl: "max-age=31536000",
	StorageClass: "STANDARD",
}

func readAll(t *testing.T, rc io.ReadCloser) []byte {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func TestFilesystemStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFilesystemStore(dir)
	require.NoError(t, err)

	key, err := store.PutObject(context.Background(), "/images/200x100/webp/photo.jpg", strings.NewReader("variant"), variantOpts)
	require.NoError(t, err)
	assert.Equal(t, "images/200x100/webp/photo.jpg", key)
	assert.FileExists(t, filepath.Join(dir, "images", "200x100", "webp", "photo.jpg"))

	rc, info, err := store.GetObject(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, []byte("variant"), readAll(t, rc))
	assert.Equal(t, "image/webp", info.ContentType)
	assert.Equal(t, "max-age=31536000", info.CacheControl)
	assert.Equal(t, "STANDARD", info.StorageClass)
	assert.Equal(t, int64(7), info.Size)

	entries, err := os.ReadDir(filepath.Join(dir, "images", "200x100", "webp"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".tmp-"), "temp file left behind: %s", e.Name())
	}
}

func TestFilesystemStoreOverwriteIsLastWriterWins(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.PutObject(ctx, "a/1x1/png/a.png", strings.NewReader("one"), variantOpts)
	require.NoError(t, err)
	_, err = store.PutObject(ctx, "a/1x1/png/a.png", strings.NewReader("two"), variantOpts)
	require.NoError(t, err)

	rc, _, err := store.GetObject(ctx, "a/1x1/png/a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), readAll(t, rc))
}

func TestFilesystemStoreFailedRenameLeavesNoSidecar(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFilesystemStore(dir)
	require.NoError(t, err)
	// A directory occupying the key makes the final rename fail.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "images", "a.png", "child"), 0o755))

	_, err = store.PutObject(context.Background(), "images/a.png", strings.NewReader("body"), PutOptions{ContentType: "image/png"})
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "images", "a.png"+metaSuffix))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
	entries, err := os.ReadDir(filepath.Join(dir, "images"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".tmp-"), e.Name())
	}
}

func TestStoresRejectBadKeysAndReportMissing(t *testing.T) {
	fs, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	for name, store := range map[string]ReadWriter{"filesystem": fs, "memory": NewMemoryStore()} {
		t.Run(name, func(t *testing.T) {
			_, err := store.PutObject(context.Background(), "../escape.png", strings.NewReader("x"), PutOptions{})
			assert.Error(t, err)
			_, err = store.PutObject(context.Background(), "", strings.NewReader("x"), PutOptions{})
			assert.Error(t, err)

			_, _, err = store.GetObject(context.Background(), "missing.png")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestMemoryStoreKeys(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.PutObject(context.Background(), "b.png", strings.NewReader("b"), PutOptions{})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "a.png", strings.NewReader("a"), PutOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png", "b.png"}, store.Keys())
}

type flakyStore struct {
	*MemoryStore
	failures int32
	calls    atomic.Int32
	err      error
}

func (f *flakyStore) PutObject(ctx context.Context, key string, body io.Reader, opts PutOptions) (string, error) {
	if f.calls.Add(1) <= f.failures {
		_, _ = io.Copy(io.Discard, body)
		return "", f.err
	}
	return f.MemoryStore.PutObject(ctx, key, body, opts)
}

func fastBackoff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 5)
}

func TestRetryingStoreRetriesTransientFailures(t *testing.T) {
	flaky := &flakyStore{MemoryStore: NewMemoryStore(), failures: 2, err: apperrors.FromHTTPStatus(503, "s3")}
	store := NewRetryingStore(flaky, fastBackoff, nil)

	key, err := store.PutObject(context.Background(), "x/1x1/png/a.png", bytes.NewReader([]byte("payload")), variantOpts)
	require.NoError(t, err)
	assert.Equal(t, "x/1x1/png/a.png", key)
	assert.Equal(t, int32(3), flaky.calls.Load())

	rc, info, err := store.GetObject(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), readAll(t, rc))
	assert.Equal(t, "image/webp", info.ContentType)
}

func TestRetryingStoreStopsOnPermanentFailure(t *testing.T) {
	flaky := &flakyStore{MemoryStore: NewMemoryStore(), failures: 10, err: apperrors.FromHTTPStatus(403, "s3")}
	store := NewRetryingStore(flaky, fastBackoff, nil)

	_, err := store.PutObject(context.Background(), "a.png", strings.NewReader("x"), PutOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsPermanent(err))
	assert.Equal(t, int32(1), flaky.calls.Load())
}

func TestRetryingStoreGivesUp(t *testing.T) {
	flaky := &flakyStore{MemoryStore: NewMemoryStore(), failures: 100, err: errors.New("connection reset")}
	store := NewRetryingStore(flaky, fastBackoff, nil)

	_, err := store.PutObject(context.Background(), "a.png", strings.NewReader("x"), PutOptions{})
	require.Error(t, err)
	assert.Equal(t, int32(6), flaky.calls.Load())
}

func TestClassifyFallsBackToWrapping(t *testing.T) {
	err := classify(errors.New("dial tcp: refused"), "s3 put k")
	assert.Contains(t, err.Error(), "s3 put k")
	assert.False(t, errors.Is(err, ErrNotFound))
}
