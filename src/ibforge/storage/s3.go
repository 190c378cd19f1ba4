package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// metaSHA256 is the user metadata key holding the hex digest of an image
const metaSHA256 = "sha256"

// S3Config holds the S3 storage configuration
type S3Config struct {
	// Endpoint is the S3-compatible endpoint URL (e.g. "http://minio:9000"); empty uses AWS
	Endpoint string

	// Region is the S3 region (e.g., "us-east-1")
	Region string

	// Bucket receives published images
	Bucket string

	// AccessKeyID is the S3 access key
	AccessKeyID string

	// SecretAccessKey is the S3 secret key
	SecretAccessKey string

	// UsePathStyle enables path-style addressing (required for most S3-compatible storage)
	UsePathStyle bool
}

// S3Backend publishes to an S3-compatible bucket
type S3Backend struct {
	client *s3.Client
	cfg    S3Config
}

// NewS3 creates a new S3 storage backend
func NewS3(cfg S3Config) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 storage requires a bucket")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	client := s3.NewFromConfig(aws.Config{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
	}, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &S3Backend{client: client, cfg: cfg}, nil
}

// Put uploads an object with its digest as user metadata
func (b *S3Backend) Put(ctx context.Context, obj Object, body io.Reader) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(b.cfg.Bucket),
		Key:           aws.String(obj.Key),
		Body:          body,
		ContentLength: aws.Int64(obj.Size),
	}
	if obj.ContentType != "" {
		input.ContentType = aws.String(obj.ContentType)
	}
	if obj.SHA256 != "" {
		input.Metadata = map[string]string{metaSHA256: obj.SHA256}
	}

	if _, err := b.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload object %s: %w", obj.Key, err)
	}
	return nil
}

// Stat reads an object's size and recorded digest
func (b *S3Backend) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to inspect object %s: %w", key, err)
	}
	return &ObjectInfo{
		Key:    key,
		Size:   aws.ToInt64(out.ContentLength),
		SHA256: out.Metadata[metaSHA256],
	}, nil
}

// Ping checks that the bucket is reachable
func (b *S3Backend) Ping(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.cfg.Bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to reach bucket %s: %w", b.cfg.Bucket, err)
	}
	return nil
}

// Type returns the storage backend type
func (b *S3Backend) Type() string {
	return "s3"
}

// Location returns the S3 endpoint and bucket
func (b *S3Backend) Location() string {
	if b.cfg.Endpoint == "" {
		return "s3://" + b.cfg.Bucket
	}
	return fmt.Sprintf("%s/%s", b.cfg.Endpoint, b.cfg.Bucket)
}
