package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	storeerrors "github.com/autosteer/autosteer/internal/errors"
)

// DefaultPartSize is the multipart threshold and part size for archives.
const DefaultPartSize = 8 * 1024 * 1024

// S3Config holds configuration for S3 storage.
type S3Config struct {
	Region string
	// Endpoint is an optional custom endpoint (MinIO, LocalStack).
	Endpoint string
	// UsePathStyle enables path-style addressing (required for MinIO).
	UsePathStyle bool
	// PartSize switches uploads of larger files to multipart.
	PartSize int64
}

// S3Storage implements ObjectStorage for AWS S3 and compatible stores.
type S3Storage struct {
	client     *s3.Client
	bucket     string
	partSize   int64
	maxRetries int
}

// NewS3Storage creates a client from the default AWS credential chain.
func NewS3Storage(ctx context.Context, bucket string, cfg S3Config) (*S3Storage, error) {
	if bucket == "" {
		return nil, storeerrors.NewConfigError(storeerrors.CodeInvalidConfig, "s3 export requires a bucket", nil)
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, storeerrors.NewConfigError(storeerrors.CodeInvalidConfig, "failed to load AWS config", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3StorageWithClient(client, bucket, cfg.PartSize), nil
}

// NewS3StorageWithClient wraps a pre-configured client.
func NewS3StorageWithClient(client *s3.Client, bucket string, partSize int64) *S3Storage {
	if partSize <= 0 {
		partSize = DefaultPartSize
	}
	return &S3Storage{
		client:     client,
		bucket:     bucket,
		partSize:   partSize,
		maxRetries: 3,
	}
}

// Upload puts a file, using multipart upload above the part size.
func (s *S3Storage) Upload(ctx context.Context, localPath, objectPath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return uploadError(objectPath, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return uploadError(objectPath, err)
	}

	err = s.retryWithBackoff(ctx, func() error {
		if stat.Size() > s.partSize {
			return s.multipartUpload(ctx, file, stat.Size(), objectPath)
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return err
		}
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectPath),
			Body:   file,
		})
		return err
	})
	if err != nil {
		return uploadError(objectPath, err)
	}
	return nil
}

func (s *S3Storage) multipartUpload(ctx context.Context, file *os.File, size int64, objectPath string) error {
	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectPath),
	})
	if err != nil {
		return err
	}

	abort := func() {
		_, _ = s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(objectPath),
			UploadId: created.UploadId,
		})
	}

	numParts := int(math.Ceil(float64(size) / float64(s.partSize)))
	parts := make([]types.CompletedPart, 0, numParts)
	for n := 1; n <= numParts; n++ {
		offset := int64(n-1) * s.partSize
		length := min(s.partSize, size-offset)

		out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(objectPath),
			UploadId:      created.UploadId,
			PartNumber:    aws.Int32(int32(n)),
			Body:          io.NewSectionReader(file, offset, length),
			ContentLength: aws.Int64(length),
		})
		if err != nil {
			abort()
			return err
		}
		parts = append(parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(int32(n))})
	}

	if _, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(objectPath),
		UploadId:        created.UploadId,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	}); err != nil {
		abort()
		return err
	}
	return nil
}

// Download fetches an object into localPath.
func (s *S3Storage) Download(ctx context.Context, objectPath, localPath string) error {
	var resp *s3.GetObjectOutput
	err := s.retryWithBackoff(ctx, func() error {
		var err error
		resp, err = s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectPath),
		})
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return notFound(objectPath)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, storeerrors.ErrObjectNotFound) {
			return err
		}
		return downloadError(objectPath, err)
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return downloadError(objectPath, err)
	}
	file, err := os.Create(localPath)
	if err != nil {
		return downloadError(objectPath, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, resp.Body); err != nil {
		return downloadError(objectPath, err)
	}
	return nil
}

// Delete removes an object from the bucket.
func (s *S3Storage) Delete(ctx context.Context, objectPath string) error {
	err := s.retryWithBackoff(ctx, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectPath),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", objectPath, err)
	}
	return nil
}

// Exists issues a HEAD request for the object.
func (s *S3Storage) Exists(ctx context.Context, objectPath string) (bool, error) {
	var exists bool
	err := s.retryWithBackoff(ctx, func() error {
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectPath),
		})
		var nf *types.NotFound
		if errors.As(err, &nf) {
			exists = false
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// ListObjects pages through all keys under prefix.
func (s *S3Storage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var objects []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, aws.ToString(obj.Key))
		}
	}
	return objects, nil
}

// retryWithBackoff retries operation with exponential backoff starting at
// 100ms. Missing objects are not retried.
func (s *S3Storage) retryWithBackoff(ctx context.Context, operation func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil || errors.Is(lastErr, storeerrors.ErrObjectNotFound) {
			return lastErr
		}

		if attempt < s.maxRetries {
			backoff := time.Duration(1<<attempt) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}
