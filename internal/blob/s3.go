package blob

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config describes an S3-compatible bucket.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// S3 stores files in a bucket under the same object paths as Local.
type S3 struct {
	cl        *minio.Client
	bucket    string
	urlExpiry time.Duration
	now       func() time.Time
}

// NewS3 connects and creates the bucket when it does not exist.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	cl, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}
	exists, err := cl.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := cl.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &S3{cl: cl, bucket: cfg.Bucket, urlExpiry: 15 * time.Minute, now: time.Now}, nil
}

func (s *S3) Put(ctx context.Context, category, name string, r io.Reader) (string, error) {
	key, err := objectPath(category, name, s.now())
	if err != nil {
		return "", err
	}
	ct := mime.TypeByExtension(path.Ext(key))
	if ct == "" {
		ct = "application/octet-stream"
	}
	if _, err := s.cl.PutObject(ctx, s.bucket, key, r, -1, minio.PutObjectOptions{ContentType: ct}); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return key, nil
}

func (s *S3) Delete(ctx context.Context, stored string) error {
	if _, err := relative(stored); err != nil {
		return err
	}
	// RemoveObject does not fail for missing keys.
	return s.cl.RemoveObject(ctx, s.bucket, stored, minio.RemoveObjectOptions{})
}

// URL returns a presigned GET URL that names the download after the
// original file.
func (s *S3) URL(ctx context.Context, stored string) (string, error) {
	if _, err := relative(stored); err != nil {
		return "", err
	}
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", path.Base(stored)))
	u, err := s.cl.PresignedGetObject(ctx, s.bucket, stored, s.urlExpiry, params)
	if err != nil {
		return "", fmt.Errorf("presign: %w", err)
	}
	return u.String(), nil
}
