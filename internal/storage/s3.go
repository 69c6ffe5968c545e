package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	csvContentType   = "text/csv"
	defaultPartSize  = 8 * 1024 * 1024
	defaultRetries   = 3
	retryBaseBackoff = 100 * time.Millisecond
)

// S3Config holds configuration for S3 storage.
type S3Config struct {
	// Region is the AWS region of the bucket
	Region string

	// Endpoint overrides the service endpoint (MinIO, LocalStack)
	Endpoint string

	// UsePathStyle enables path-style addressing
	UsePathStyle bool

	// PartSize is the multipart threshold and part size in bytes
	PartSize int64

	// MaxRetries bounds retries of each request
	MaxRetries int
}

// DefaultS3Config returns the default S3 configuration.
func DefaultS3Config() S3Config {
	return S3Config{
		Region:     "us-east-1",
		PartSize:   defaultPartSize,
		MaxRetries: defaultRetries,
	}
}

// S3Storage stores objects in an S3 or S3-compatible bucket.
type S3Storage struct {
	client *s3.Client
	bucket string
	cfg    S3Config
}

// NewS3Storage creates an S3 storage using the default AWS credential chain.
func NewS3Storage(ctx context.Context, bucket string, cfg S3Config) (*S3Storage, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
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

// NewS3StorageWithClient creates an S3 storage over an existing client.
func NewS3StorageWithClient(client *s3.Client, bucket string, cfg S3Config) *S3Storage {
	if cfg.PartSize <= 0 {
		cfg.PartSize = defaultPartSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &S3Storage{client: client, bucket: bucket, cfg: cfg}
}

// Put uploads localPath with a single request, or in parts when the file is
// larger than PartSize.
func (s *S3Storage) Put(ctx context.Context, localPath, objectPath string, meta Metadata) (ObjectInfo, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("%w: %v", ErrPutFailed, err)
	}
	defer file.Close()

	fi, err := file.Stat()
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("%w: %v", ErrPutFailed, err)
	}

	meta = copyMetadata(meta)
	var etag string
	err = s.retry(ctx, func() error {
		var putErr error
		if fi.Size() <= s.cfg.PartSize {
			etag, putErr = s.putSingle(ctx, file, objectPath, meta)
		} else {
			etag, putErr = s.putMultipart(ctx, file, fi.Size(), objectPath, meta)
		}
		return putErr
	})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("%w: %v", ErrPutFailed, err)
	}

	return ObjectInfo{Path: objectPath, Size: fi.Size(), ETag: etag, Metadata: meta}, nil
}

func (s *S3Storage) putSingle(ctx context.Context, file *os.File, objectPath string, meta Metadata) (string, error) {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	resp, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectPath),
		Body:        file,
		ContentType: aws.String(csvContentType),
		Metadata:    meta,
	})
	if err != nil {
		return "", err
	}
	return trimETag(resp.ETag), nil
}

func (s *S3Storage) putMultipart(ctx context.Context, file *os.File, size int64, objectPath string, meta Metadata) (string, error) {
	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectPath),
		ContentType: aws.String(csvContentType),
		Metadata:    meta,
	})
	if err != nil {
		return "", err
	}
	uploadID := created.UploadId

	parts := planParts(size, s.cfg.PartSize)
	completed := make([]types.CompletedPart, 0, len(parts))
	for _, part := range parts {
		resp, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(objectPath),
			UploadId:      uploadID,
			PartNumber:    aws.Int32(part.Number),
			Body:          io.NewSectionReader(file, part.Offset, part.Size),
			ContentLength: aws.Int64(part.Size),
		})
		if err != nil {
			s.abort(ctx, objectPath, uploadID)
			return "", err
		}
		completed = append(completed, types.CompletedPart{
			ETag:       resp.ETag,
			PartNumber: aws.Int32(part.Number),
		})
	}

	done, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(objectPath),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		s.abort(ctx, objectPath, uploadID)
		return "", err
	}
	return trimETag(done.ETag), nil
}

func (s *S3Storage) abort(ctx context.Context, objectPath string, uploadID *string) {
	_, _ = s.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(objectPath),
		UploadId: uploadID,
	})
}

// Stat describes objectPath using HeadObject.
func (s *S3Storage) Stat(ctx context.Context, objectPath string) (ObjectInfo, error) {
	var info ObjectInfo
	err := s.retry(ctx, func() error {
		resp, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectPath),
		})
		if err != nil {
			var notFound *types.NotFound
			if errors.As(err, &notFound) {
				return fmt.Errorf("%w: %s", ErrObjectNotFound, objectPath)
			}
			return err
		}
		info = ObjectInfo{
			Path:     objectPath,
			Size:     aws.ToInt64(resp.ContentLength),
			ETag:     trimETag(resp.ETag),
			Metadata: copyMetadata(resp.Metadata),
		}
		return nil
	})
	return info, err
}

// Delete removes objectPath from the bucket.
func (s *S3Storage) Delete(ctx context.Context, objectPath string) error {
	err := s.retry(ctx, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectPath),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}
	return nil
}

// List returns the object keys under prefix.
func (s *S3Storage) List(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
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
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *S3Storage) retry(ctx context.Context, op func() error) error {
	return retryWithBackoff(ctx, s.cfg.MaxRetries, retryBaseBackoff, op)
}

// part is one byte range of a multipart upload. Numbers start at 1.
type part struct {
	Number int32
	Offset int64
	Size   int64
}

// planParts splits size bytes into partSize ranges; the last may be shorter.
func planParts(size, partSize int64) []part {
	if size <= 0 || partSize <= 0 {
		return nil
	}
	parts := make([]part, 0, (size+partSize-1)/partSize)
	for offset, n := int64(0), int32(1); offset < size; offset, n = offset+partSize, n+1 {
		length := partSize
		if offset+length > size {
			length = size - offset
		}
		parts = append(parts, part{Number: n, Offset: offset, Size: length})
	}
	return parts
}

// retryWithBackoff runs op up to maxRetries+1 times, doubling the wait after
// each failure. Missing objects and context errors are returned at once.
func retryWithBackoff(ctx context.Context, maxRetries int, base time.Duration, op func() error) error {
	var lastErr error
	wait := base
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil || isPermanent(lastErr) {
			return lastErr
		}

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			wait *= 2
		}
	}
	return lastErr
}

func isPermanent(err error) bool {
	return errors.Is(err, ErrObjectNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func trimETag(etag *string) string {
	return strings.Trim(aws.ToString(etag), `"`)
}
