package blob

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/valyc0/document-service/pkg/config"
	apperrors "github.com/valyc0/document-service/pkg/errors"
)

// S3Storage stores blobs in an S3-compatible bucket. Path-style addressing is
// forced so MinIO endpoints work without DNS bucket tricks.
type S3Storage struct {
	client *s3.S3
	bucket string
	logger *slog.Logger

	// Observe, when set, receives the duration of each storage operation.
	Observe func(op string, seconds float64)
}

// NewS3Storage builds the S3 client from config. It does not touch the
// network; call EnsureBucket to verify connectivity.
func NewS3Storage(cfg config.BlobConfig) (*S3Storage, error) {
	awsCfg := &aws.Config{
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
		Endpoint:         aws.String(cfg.Endpoint),
		Region:           aws.String(cfg.Region),
		DisableSSL:       aws.Bool(!cfg.UseSSL),
		S3ForcePathStyle: aws.Bool(true),
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("creating aws session: %w", err)
	}

	return &S3Storage{
		client: s3.New(sess),
		bucket: cfg.Bucket,
		logger: slog.Default().With("component", "blob-storage", "bucket", cfg.Bucket),
	}, nil
}

// EnsureBucket creates the bucket if it does not already exist.
func (s *S3Storage) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}
	_, err = s.client.CreateBucketWithContext(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok &&
			(aerr.Code() == s3.ErrCodeBucketAlreadyOwnedByYou || aerr.Code() == s3.ErrCodeBucketAlreadyExists) {
			return nil
		}
		return fmt.Errorf("%w: creating bucket %s: %v", apperrors.ErrStorageUnavailable, s.bucket, err)
	}
	s.logger.Info("bucket created")
	return nil
}

func (s *S3Storage) observe(op string, start time.Time) {
	if s.Observe != nil {
		s.Observe(op, time.Since(start).Seconds())
	}
}

// Upload writes a blob under the given key.
func (s *S3Storage) Upload(ctx context.Context, key string, data io.Reader, size int64, contentType string) error {
	start := time.Now()
	defer s.observe("upload", start)
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          aws.ReadSeekCloser(data),
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("%w: uploading %s: %v", apperrors.ErrStorageUnavailable, key, err)
	}
	s.logger.Debug("blob uploaded", "key", key, "size", size, "elapsed", time.Since(start))
	return nil
}

// Download returns a reader over the blob. The caller must close it.
func (s *S3Storage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	defer s.observe("download", time.Now())
	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, apperrors.ErrFileNotFound
		}
		return nil, fmt.Errorf("%w: downloading %s: %v", apperrors.ErrStorageUnavailable, key, err)
	}
	return result.Body, nil
}

// Delete removes the blob. Deleting a missing key is not an error.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	defer s.observe("delete", time.Now())
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("%w: deleting %s: %v", apperrors.ErrStorageUnavailable, key, err)
	}
	return nil
}

// Exists reports whether the key is present in the bucket.
func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && (aerr.Code() == "NotFound" || aerr.Code() == s3.ErrCodeNoSuchKey) {
			return false, nil
		}
		return false, fmt.Errorf("%w: checking %s: %v", apperrors.ErrStorageUnavailable, key, err)
	}
	return true, nil
}
