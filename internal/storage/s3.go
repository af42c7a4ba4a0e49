package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/golang/glog"
)

// bundleContentType is set on uploaded objects.
const bundleContentType = "application/x-snappy-framed"

// S3API is the part of *s3.Client bundles are stored through.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Storage keeps bundles in an S3 or S3-compatible bucket.
type S3Storage struct {
	api    S3API
	bucket string
	retry  retryPolicy
}

// S3Config holds configuration for S3 storage.
type S3Config struct {
	// Region is the AWS region for the S3 bucket.
	Region string
	// Endpoint is an optional custom endpoint (MinIO, LocalStack).
	Endpoint string
	// UsePathStyle enables path-style addressing (required for MinIO).
	UsePathStyle bool
	// MaxRetries bounds the retries of a failed request.
	MaxRetries int
	// RetryBackoff is the wait before the first retry; it doubles after
	// each attempt.
	RetryBackoff time.Duration
}

// DefaultS3Config returns the default S3 configuration.
func DefaultS3Config() S3Config {
	return S3Config{
		Region:       "us-east-1",
		MaxRetries:   3,
		RetryBackoff: 100 * time.Millisecond,
	}
}

// NewS3Storage loads the AWS credentials chain and connects to bucket.
func NewS3Storage(ctx context.Context, bucket string, cfg S3Config) (*S3Storage, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3StorageWithClient(client, bucket, cfg), nil
}

// NewS3StorageWithClient stores bundles through an existing client.
func NewS3StorageWithClient(api S3API, bucket string, cfg S3Config) *S3Storage {
	return &S3Storage{
		api:    api,
		bucket: bucket,
		retry:  retryPolicy{retries: max(cfg.MaxRetries, 0), backoff: cfg.RetryBackoff},
	}
}

// Put uploads data; S3 replaces objects atomically.
func (s *S3Storage) Put(ctx context.Context, objectPath string, data []byte) error {
	err := s.retry.do(ctx, "put "+objectPath, func() error {
		_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(objectPath),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String(bundleContentType),
		})
		return err
	})
	if err != nil {
		return uploadFailed(objectPath, err)
	}
	return nil
}

// Get downloads the object at objectPath.
func (s *S3Storage) Get(ctx context.Context, objectPath string) ([]byte, error) {
	var data []byte
	err := s.retry.do(ctx, "get "+objectPath, func() error {
		out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectPath),
		})
		if err != nil {
			return err
		}
		defer out.Body.Close()
		data, err = io.ReadAll(out.Body)
		return err
	})
	switch {
	case err == nil:
		return data, nil
	case isMissing(err):
		return nil, notFound(objectPath)
	default:
		return nil, downloadFailed(objectPath, err)
	}
}

// Delete removes the object at objectPath. S3 reports success for a
// missing key.
func (s *S3Storage) Delete(ctx context.Context, objectPath string) error {
	err := s.retry.do(ctx, "delete "+objectPath, func() error {
		_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectPath),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", objectPath, err)
	}
	return nil
}

// Exists issues a HEAD request for objectPath.
func (s *S3Storage) Exists(ctx context.Context, objectPath string) (bool, error) {
	err := s.retry.do(ctx, "head "+objectPath, func() error {
		_, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectPath),
		})
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case isMissing(err):
		return false, nil
	default:
		return false, fmt.Errorf("head %s: %w", objectPath, err)
	}
}

// ListObjects pages through every key under prefix.
func (s *S3Storage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	pages := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// isMissing reports the S3 errors of an absent key: NoSuchKey from GET and
// NotFound from HEAD.
func isMissing(err error) bool {
	var noSuchKey *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &nf)
}

// retryPolicy retries failed requests with exponential backoff. Missing
// keys and context errors are final.
type retryPolicy struct {
	retries int
	backoff time.Duration
}

func (p retryPolicy) do(ctx context.Context, what string, op func() error) error {
	wait := p.backoff
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op()
		if err == nil || isMissing(err) || attempt >= p.retries {
			return err
		}
		glog.V(2).Infof("s3: %s attempt %d failed, retrying in %s: %v", what, attempt+1, wait, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
}
