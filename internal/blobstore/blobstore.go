// Package blobstore persists generated variants so the CDN can serve them
// from its origin on the next request.
package blobstore

import (
	"context"
	"errors"
	"io"
	"strings"
)

// ErrNotFound is returned by Reader.GetObject when key does not exist.
var ErrNotFound = errors.New("blobstore: object not found")

// PutOptions carries the object metadata written alongside the body.
type PutOptions struct {
	ContentType  string
	CacheControl string
	StorageClass string
	// Size is the body length, or -1 when unknown.
	Size int64
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string `json:"key"`
	Size         int64  `json:"size"`
	ContentType  string `json:"content_type,omitempty"`
	CacheControl string `json:"cache_control,omitempty"`
	StorageClass string `json:"storage_class,omitempty"`
	ETag         string `json:"etag,omitempty"`
}

// Store writes objects. PutObject returns the key that was written.
type Store interface {
	PutObject(ctx context.Context, key string, body io.Reader, opts PutOptions) (string, error)
}

// Reader opens stored objects.
type Reader interface {
	GetObject(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
}

// ReadWriter is implemented by every backend in this package.
type ReadWriter interface {
	Store
	Reader
}

func cleanKey(key string) (string, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" {
		return "", errors.New("blobstore: empty key")
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." {
			return "", errors.New("blobstore: key escapes store root")
		}
	}
	return key, nil
}
