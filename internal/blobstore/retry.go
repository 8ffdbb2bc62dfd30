package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	apperrors "edgeresize/internal/errors"
	"edgeresize/internal/logging"

	backoff "github.com/cenkalti/backoff/v4"
)

// RetryingStore wraps a store and retries best-effort writes. Reads pass
// through untouched.
type RetryingStore struct {
	delegate     ReadWriter
	buildBackoff func() backoff.BackOff
	logger       logging.Logger
}

// DefaultBackoff returns the exponential policy used when none is given.
func DefaultBackoff(maxElapsed time.Duration) func() backoff.BackOff {
	if maxElapsed <= 0 {
		maxElapsed = 3 * time.Second
	}
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 100 * time.Millisecond
		b.MaxElapsedTime = maxElapsed
		return b
	}
}

// NewRetryingStore creates a store that retries PutObject until the policy
// built by factory gives up.
func NewRetryingStore(delegate ReadWriter, factory func() backoff.BackOff, logger logging.Logger) *RetryingStore {
	if factory == nil {
		factory = DefaultBackoff(0)
	}
	return &RetryingStore{
		delegate:     delegate,
		buildBackoff: factory,
		logger:       logging.OrNop(logger),
	}
}

// PutObject buffers body once so every attempt sends identical bytes.
func (s *RetryingStore) PutObject(ctx context.Context, key string, body io.Reader, opts PutOptions) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read blob: %w", err)
	}
	opts.Size = int64(len(data))

	var written string
	attempt := 0
	op := func() error {
		attempt++
		k, err := s.delegate.PutObject(ctx, key, bytes.NewReader(data), opts)
		if err != nil {
			if apperrors.IsPermanent(err) || errors.Is(err, context.Canceled) {
				return backoff.Permanent(err)
			}
			return err
		}
		written = k
		return nil
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn("put %s attempt %d failed, retrying in %v: %v", key, attempt, wait, err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(s.buildBackoff(), ctx), notify); err != nil {
		return "", err
	}
	return written, nil
}

func (s *RetryingStore) GetObject(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	return s.delegate.GetObject(ctx, key)
}

var _ ReadWriter = (*RetryingStore)(nil)
