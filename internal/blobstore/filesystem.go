package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"edgeresize/internal/jsonx"
)

const metaSuffix = ".meta.json"

// FilesystemStore writes variants to the local disk, with object metadata in
// a JSON sidecar. It backs the local emulator and tests.
type FilesystemStore struct {
	baseDir string
}

// NewFilesystemStore creates a store rooted at baseDir.
func NewFilesystemStore(baseDir string) (*FilesystemStore, error) {
	if baseDir == "" {
		baseDir = "data/variants"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FilesystemStore{baseDir: baseDir}, nil
}

// Dir returns the store root.
func (s *FilesystemStore) Dir() string {
	return s.baseDir
}

// PutObject writes body through a temp file and renames it into place, so
// readers never observe a partial variant.
func (s *FilesystemStore) PutObject(ctx context.Context, key string, body io.Reader, opts PutOptions) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("ensure blob dir: %w", err)
	}
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp blob: %w", err)
	}
	tmpPath := f.Name()
	n, err := io.Copy(f, body)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close blob: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename blob: %w", err)
	}

	// The sidecar only ever describes a body that is in place.
	meta, err := jsonx.Marshal(ObjectInfo{
		Key:          key,
		Size:         n,
		ContentType:  opts.ContentType,
		CacheControl: opts.CacheControl,
		StorageClass: opts.StorageClass,
	})
	if err != nil {
		return "", fmt.Errorf("encode blob meta: %w", err)
	}
	if err := os.WriteFile(path+metaSuffix, meta, 0o644); err != nil {
		return "", fmt.Errorf("write blob meta: %w", err)
	}
	return key, nil
}

// GetObject opens key. Missing metadata is tolerated; only the body is
// required.
func (s *FilesystemStore) GetObject(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	path := filepath.Join(s.baseDir, filepath.FromSlash(key))
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, ObjectInfo{}, fmt.Errorf("open blob: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, ObjectInfo{}, fmt.Errorf("stat blob: %w", err)
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	info := ObjectInfo{Key: key}
	if raw, err := os.ReadFile(path + metaSuffix); err == nil {
		_ = jsonx.Unmarshal(raw, &info)
	}
	info.Key = key
	info.Size = st.Size()
	return f, info, nil
}

var _ ReadWriter = (*FilesystemStore)(nil)
