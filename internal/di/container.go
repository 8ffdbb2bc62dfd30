// Package di assembles the components described by a config.Config.
package di

import (
	"context"
	"errors"
	"fmt"
	"io"

	"edgeresize/internal/blobstore"
	"edgeresize/internal/config"
	apperrors "edgeresize/internal/errors"
	"edgeresize/internal/id"
	"edgeresize/internal/logging"
	"edgeresize/internal/materializer"
	"edgeresize/internal/observability"
	"edgeresize/internal/origin"
	"edgeresize/internal/rewriter"
	"edgeresize/internal/transcode"
)

// Container holds all application dependencies
type Container struct {
	Config        config.Config
	Observability *observability.Observability
	Rewriter      *rewriter.Rewriter
	Materializer  *materializer.Materializer
	Fetcher       origin.Fetcher
	Store         blobstore.ReadWriter
}

// Options replace parts of the default wiring, mainly for tests.
type Options struct {
	LogOutput io.Writer
	Fetcher   origin.Fetcher
	Store     blobstore.ReadWriter
}

// BuildContainer builds the dependency graph for cfg.
func BuildContainer(cfg config.Config, opts Options) (*Container, error) {
	obs, err := observability.New(cfg.Config, opts.LogOutput)
	if err != nil {
		return nil, err
	}
	logging.SetDefault(obs.Logger)
	id.SetStrategy(cfg.IDStrategy())
	logger := logging.NewComponentLogger("di")

	store := opts.Store
	if store == nil {
		if store, err = buildStore(cfg); err != nil {
			return nil, err
		}
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher, err = origin.NewHTTPFetcher(origin.Config{
			BaseURL:      cfg.BaseURL(),
			Timeout:      cfg.Origin.Timeout,
			MaxBytes:     cfg.Origin.MaxBytes,
			CacheEntries: cfg.Origin.CacheEntries,
			Breaker:      apperrors.DefaultCircuitBreakerConfig(),
		},
			origin.WithLogger(logging.NewComponentLogger("origin")),
			origin.WithMetrics(obs.Metrics),
			origin.WithTracer(obs.Tracer),
		)
		if err != nil {
			return nil, err
		}
	}

	mat := materializer.New(fetcher, transcode.NewImagingTranscoder(), store, materializer.Config{
		CacheControl: cfg.Storage.CacheControl,
		StorageClass: cfg.Storage.StorageClass,
		PutTimeout:   cfg.Storage.PutTimeout,
		MaxDimension: cfg.Resize.MaxDimension,
	},
		materializer.WithLogger(logging.NewComponentLogger("materializer")),
		materializer.WithMetrics(obs.Metrics),
		materializer.WithTracer(obs.Tracer),
	)

	logger.Debug("container ready: origin=%s backend=%s bucket=%s", cfg.BaseURL(), cfg.Storage.Backend, cfg.Bucket)
	return &Container{
		Config:        cfg,
		Observability: obs,
		Rewriter: rewriter.New(rewriter.Options{
			AllowedExtensions: cfg.Resize.AllowedExtensions,
			MaxDimension:      cfg.Resize.MaxDimension,
		}),
		Materializer: mat,
		Fetcher:      fetcher,
		Store:        store,
	}, nil
}

func buildStore(cfg config.Config) (blobstore.ReadWriter, error) {
	var (
		store blobstore.ReadWriter
		err   error
	)
	switch cfg.Storage.Backend {
	case config.BackendS3:
		store, err = blobstore.NewS3Store(blobstore.S3Config{
			Endpoint:  cfg.S3Endpoint(),
			Region:    cfg.Region,
			Bucket:    cfg.Bucket,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			PathStyle: cfg.Storage.PathStyle,
		})
	case config.BackendFilesystem:
		store, err = blobstore.NewFilesystemStore(cfg.Storage.Dir)
	case config.BackendMemory:
		store = blobstore.NewMemoryStore()
	default:
		err = fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("build store: %w", err)
	}
	return blobstore.NewRetryingStore(
		store,
		blobstore.DefaultBackoff(cfg.Storage.RetryMaxElapsed),
		logging.NewComponentLogger("blobstore"),
	), nil
}

// Cleanup waits for pending store writes, then flushes telemetry.
func (c *Container) Cleanup(ctx context.Context) error {
	if c == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		c.Materializer.Wait()
		close(done)
	}()
	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = fmt.Errorf("pending store writes: %w", ctx.Err())
	}
	return errors.Join(waitErr, c.Observability.Shutdown(ctx))
}
