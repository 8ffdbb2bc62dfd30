package di

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"edgeresize/internal/blobstore"
	"edgeresize/internal/config"
	"edgeresize/internal/edge"
	"edgeresize/internal/id"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadConfig(t *testing.T, overrides map[string]any) config.Config {
	t.Helper()
	base := map[string]any{"domain": "example.org", "storage.backend": "memory", "metrics.enabled": false}
	for k, v := range overrides {
		base[k] = v
	}
	cfg, err := config.Load(config.WithOverrides(base))
	require.NoError(t, err)
	return cfg
}

func TestBuildContainerWiresMemoryBackend(t *testing.T) {
	c, err := BuildContainer(loadConfig(t, nil), Options{LogOutput: io.Discard})
	require.NoError(t, err)
	assert.NotNil(t, c.Rewriter)
	assert.NotNil(t, c.Materializer)
	assert.IsType(t, &blobstore.RetryingStore{}, c.Store)
	require.NoError(t, c.Cleanup(context.Background()))
}

func TestBuildContainerFilesystemBackend(t *testing.T) {
	cfg := loadConfig(t, map[string]any{"storage.backend": "filesystem", "storage.dir": t.TempDir()})
	c, err := BuildContainer(cfg, Options{LogOutput: io.Discard})
	require.NoError(t, err)
	require.NoError(t, c.Cleanup(context.Background()))
}

func TestBuildContainerS3BackendNeedsNoNetwork(t *testing.T) {
	cfg := loadConfig(t, map[string]any{
		"storage.backend":    "s3",
		"bucket":             "variants",
		"storage.access_key": "key",
		"storage.secret_key": "secret",
	})
	c, err := BuildContainer(cfg, Options{LogOutput: io.Discard})
	require.NoError(t, err)
	assert.NotNil(t, c.Store)
}

func TestContainerMaterializesFromOrigin(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/docs/readme.png" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer origin.Close()

	store := blobstore.NewMemoryStore()
	c, err := BuildContainer(loadConfig(t, map[string]any{"origin.base_url": origin.URL}), Options{LogOutput: io.Discard, Store: store})
	require.NoError(t, err)

	req := &edge.Request{URI: "/docs/readme.png", Headers: edge.Headers{}}
	resp := &edge.Response{Status: "404", Headers: edge.Headers{}}
	out := c.Materializer.Materialize(context.Background(), req, resp)
	assert.Equal(t, "200", out.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Cleanup(ctx))
	assert.Equal(t, []string{"docs/readme.png"}, store.Keys())
}

func TestBuildContainerAppliesIDStrategy(t *testing.T) {
	c, err := BuildContainer(loadConfig(t, map[string]any{"id.strategy": "uuidv7"}), Options{LogOutput: io.Discard})
	require.NoError(t, err)
	t.Cleanup(func() {
		id.SetStrategy(id.StrategyKSUID)
		_ = c.Cleanup(context.Background())
	})

	logID := id.NewLogID()
	assert.True(t, strings.HasPrefix(logID, "log-"))
	assert.Len(t, logID, len("log-")+36)
}
