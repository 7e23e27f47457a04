package store

import (
	"bytes"
	"context"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/kubev2v/sheet-filter/internal/dataset"
)

const defaultURLExpiry = 24 * time.Hour

type S3Opts func(c *s3Config)

type s3Config struct {
	endpoint        string
	bucket          string
	accessKey       string
	secretAccessKey string
	useSSL          bool
	urlExpiry       time.Duration
}

func newS3Config(opts ...S3Opts) *s3Config {
	cfg := &s3Config{
		useSSL:    false,
		urlExpiry: defaultURLExpiry,
	}

	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// S3 uploads files to a bucket and hands out presigned GET URLs.
type S3 struct {
	cfg    *s3Config
	client *minio.Client
}

func NewS3(opts ...S3Opts) (*S3, error) {
	cfg := newS3Config(opts...)

	client, err := minio.New(cfg.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.accessKey, cfg.secretAccessKey, ""),
		Secure: cfg.useSSL,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create s3 client for %s", cfg.endpoint)
	}

	return &S3{cfg: cfg, client: client}, nil
}

func (s *S3) Put(ctx context.Context, name string, content []byte) (string, error) {
	_, err := s.client.PutObject(ctx, s.cfg.bucket, name, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: dataset.ContentType,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to upload %s to bucket %s", name, s.cfg.bucket)
	}

	u, err := s.client.PresignedGetObject(ctx, s.cfg.bucket, name, s.cfg.urlExpiry, nil)
	if err != nil {
		return "", errors.Wrapf(err, "failed to presign %s", name)
	}

	zap.S().Named("store").Debugw("object stored", "bucket", s.cfg.bucket, "name", name, "bytes", len(content))
	return u.String(), nil
}

func (s *S3) Delete(ctx context.Context, name string) error {
	if err := s.client.RemoveObject(ctx, s.cfg.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return errors.Wrapf(err, "failed to delete %s from bucket %s", name, s.cfg.bucket)
	}
	return nil
}

func (s *S3) Type() string {
	return TypeS3
}

func WithEndpoint(endpoint string) S3Opts {
	return func(c *s3Config) {
		c.endpoint = endpoint
	}
}

func WithBucket(bucket string) S3Opts {
	return func(c *s3Config) {
		c.bucket = bucket
	}
}

func WithAccessKey(accessKey string) S3Opts {
	return func(c *s3Config) {
		c.accessKey = accessKey
	}
}

func WithSecretKey(secretKey string) S3Opts {
	return func(c *s3Config) {
		c.secretAccessKey = secretKey
	}
}

func WithSSL(useSSL bool) S3Opts {
	return func(c *s3Config) {
		c.useSSL = useSSL
	}
}

func WithURLExpiry(expiry time.Duration) S3Opts {
	return func(c *s3Config) {
		if expiry > 0 {
			c.urlExpiry = expiry
		}
	}
}
