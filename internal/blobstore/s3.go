package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	apperrors "edgeresize/internal/errors"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config configures an S3-compatible bucket.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	PathStyle bool
}

// S3Store writes variants to an S3 bucket.
type S3Store struct {
	cl     *minio.Client
	bucket string
}

// NewS3Store builds a client for cfg. Without static keys the credentials
// come from the AWS environment variables, then the instance/task role.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("s3.%s.amazonaws.com", cfg.Region)
	}

	var creds *credentials.Credentials
	if cfg.AccessKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.IAM{Client: &http.Client{Transport: http.DefaultTransport}},
		})
	}

	opts := &minio.Options{
		Creds:  creds,
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		opts.BucketLookup = minio.BucketLookupPath
	}
	cl, err := minio.New(endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("s3: new client: %w", err)
	}
	return &S3Store{cl: cl, bucket: cfg.Bucket}, nil
}

// PutObject uploads body under key with the given metadata.
func (s *S3Store) PutObject(ctx context.Context, key string, body io.Reader, opts PutOptions) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	size := opts.Size
	if size == 0 {
		size = -1
	}
	_, err = s.cl.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		CacheControl: opts.CacheControl,
		StorageClass: opts.StorageClass,
	})
	if err != nil {
		return "", classify(err, "s3 put "+key)
	}
	return key, nil
}

// GetObject opens key after a HEAD for its metadata.
func (s *S3Store) GetObject(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	stat, err := s.cl.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, ObjectInfo{}, classify(err, "s3 stat "+key)
	}
	obj, err := s.cl.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, ObjectInfo{}, classify(err, "s3 get "+key)
	}
	return obj, ObjectInfo{
		Key:          key,
		Size:         stat.Size,
		ContentType:  stat.ContentType,
		CacheControl: stat.Metadata.Get("Cache-Control"),
		StorageClass: stat.StorageClass,
		ETag:         stat.ETag,
	}, nil
}

// classify maps S3 error responses onto ErrNotFound or the shared
// transient/permanent taxonomy.
func classify(err error, op string) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	case resp.StatusCode != 0:
		status := apperrors.FromHTTPStatus(resp.StatusCode, op)
		return fmt.Errorf("%w: %v", status, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

var _ ReadWriter = (*S3Store)(nil)
